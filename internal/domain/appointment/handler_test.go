package appointment_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicdesk/clinic/internal/domain/appointment"
	"github.com/clinicdesk/clinic/internal/domain/appointment/appointmenttest"
	"github.com/clinicdesk/clinic/internal/platform/auth"
	"github.com/clinicdesk/clinic/internal/platform/validation"
)

type apiFixture struct {
	e        *echo.Echo
	store    *appointmenttest.Store
	notifier *appointmenttest.Notifier
	patient  uuid.UUID
	doctor   uuid.UUID
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	f := &apiFixture{
		store:    appointmenttest.NewStore(t0),
		notifier: &appointmenttest.Notifier{},
		patient:  uuid.New(),
		doctor:   uuid.New(),
	}
	wf := appointment.NewWorkflow(f.store, f.notifier, zerolog.Nop(), 2*time.Hour, appointment.WithClock(f.store.Now))

	f.e = echo.New()
	f.e.Validator = validation.New()
	api := f.e.Group("/api/v1", auth.DevAuthMiddleware(auth.JWTConfig{}))
	appointment.NewHandler(wf).RegisterRoutes(api)
	return f
}

func (f *apiFixture) do(method, path, body string, user uuid.UUID, role auth.Role) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("X-User-ID", user.String())
	req.Header.Set("X-User-Role", string(role))
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) book(t *testing.T) appointment.Appointment {
	t.Helper()
	body := fmt.Sprintf(`{"doctor_id":%q,"appointment_date":"2025-03-01","appointment_time":"10:00","duration_minutes":30,"consultation_type":"video"}`, f.doctor)
	rec := f.do(http.MethodPost, "/api/v1/appointments", body, f.patient, auth.RolePatient)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var res appointment.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return *res.Appointment
}

func TestHandler_Book(t *testing.T) {
	f := newAPI(t)
	a := f.book(t)
	assert.Equal(t, appointment.StatusPending, a.Status)
	assert.Equal(t, f.patient, a.PatientID)
	assert.Len(t, f.notifier.For(f.doctor), 1)
}

func TestHandler_BookValidation(t *testing.T) {
	f := newAPI(t)
	body := fmt.Sprintf(`{"doctor_id":%q,"appointment_date":"03/01/2025","appointment_time":"10:00","duration_minutes":30,"consultation_type":"video"}`, f.doctor)
	rec := f.do(http.MethodPost, "/api/v1/appointments", body, f.patient, auth.RolePatient)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "appointment_date")
}

func TestHandler_BookForbiddenForDoctor(t *testing.T) {
	f := newAPI(t)
	rec := f.do(http.MethodPost, "/api/v1/appointments", `{}`, f.doctor, auth.RoleDoctor)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandler_ConfirmThenStale(t *testing.T) {
	f := newAPI(t)
	a := f.book(t)
	path := "/api/v1/appointments/" + a.ID.String() + "/confirm"

	rec := f.do(http.MethodPost, path, "", f.doctor, auth.RoleDoctor)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(http.MethodPost, path, "", f.doctor, auth.RoleDoctor)
	assert.Equal(t, http.StatusConflict, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "stale_state", body["error"])
	assert.Equal(t, "confirmed", body["status"])
	assert.Contains(t, body["message"], "refresh")
}

func TestHandler_ErrorCodes(t *testing.T) {
	f := newAPI(t)
	a := f.book(t)
	base := "/api/v1/appointments/" + a.ID.String()

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		user   uuid.UUID
		role   auth.Role
		want   int
	}{
		{"missing reason", http.MethodPost, base + "/cancel", `{}`, f.patient, auth.RolePatient, http.StatusUnprocessableEntity},
		{"not a party", http.MethodGet, base, "", uuid.New(), auth.RolePatient, http.StatusForbidden},
		{"unknown id", http.MethodGet, "/api/v1/appointments/" + uuid.NewString(), "", f.patient, auth.RolePatient, http.StatusNotFound},
		{"malformed id", http.MethodGet, "/api/v1/appointments/nope", "", f.patient, auth.RolePatient, http.StatusBadRequest},
		{"invalid transition", http.MethodPost, base + "/reschedule/confirm", "", f.patient, auth.RolePatient, http.StatusConflict},
		{"bad expected status", http.MethodPost, base + "/confirm", `{"expected_status":"lost"}`, f.doctor, auth.RoleDoctor, http.StatusBadRequest},
		{"expected status mismatch", http.MethodPost, base + "/cancel", `{"reason":"x","expected_status":"confirmed"}`, f.patient, auth.RolePatient, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(tt.method, tt.path, tt.body, tt.user, tt.role)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestHandler_RescheduleFlow(t *testing.T) {
	f := newAPI(t)
	a := f.book(t)
	base := "/api/v1/appointments/" + a.ID.String()

	rec := f.do(http.MethodPost, base+"/reschedule",
		`{"reason":"conflict","appointment_date":"2025-03-02","appointment_time":"11:00"}`, f.doctor, auth.RoleDoctor)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(http.MethodPost, base+"/reschedule/propose", "", f.patient, auth.RolePatient)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(http.MethodPost, base+"/reschedule/confirm", `{"expected_status":"pending_reschedule_confirmation"}`, f.doctor, auth.RoleDoctor)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res appointment.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, appointment.StatusConfirmed, res.Appointment.Status)
	assert.Equal(t, "2025-03-02", res.Appointment.Date)
	assert.Equal(t, "2025-03-01", *res.Appointment.OriginalDate)
	assert.Len(t, res.Notified, 2)
}

func TestHandler_List(t *testing.T) {
	f := newAPI(t)
	f.book(t)
	f.store.Put(&appointment.Appointment{
		PatientID: uuid.New(), DoctorID: f.doctor,
		Date: "2025-03-04", Time: "09:00", DurationMinutes: 20,
		ConsultationType: appointment.ModalityPhone, Status: appointment.StatusPending,
	})

	rec := f.do(http.MethodGet, "/api/v1/appointments", "", f.patient, auth.RolePatient)
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Data  []appointment.Appointment `json:"data"`
		Total int                       `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 1, page.Total)

	rec = f.do(http.MethodGet, "/api/v1/appointments?status=pending", "", f.doctor, auth.RoleDoctor)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 2, page.Total)

	rec = f.do(http.MethodGet, "/api/v1/appointments?status=lost", "", f.doctor, auth.RoleDoctor)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/appointments?q=drop%20table", "", f.doctor, auth.RoleDoctor)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_ListIDPrefixIgnoresCase(t *testing.T) {
	f := newAPI(t)
	booked := f.book(t)
	prefix := strings.ToUpper(booked.ID.String()[:8])

	rec := f.do(http.MethodGet, "/api/v1/appointments?q="+prefix, "", f.patient, auth.RolePatient)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var page struct {
		Data  []appointment.Appointment `json:"data"`
		Total int                       `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Equal(t, 1, page.Total)
	assert.Equal(t, booked.ID, page.Data[0].ID)
}

func TestParseFilter_LowercasesIDPrefix(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/appointments?q=AB12-CD", nil)
	c := echo.New().NewContext(req, httptest.NewRecorder())

	f, err := appointment.ParseFilter(c)
	require.NoError(t, err)
	assert.Equal(t, "ab12-cd", f.IDPrefix)
}

func TestHandler_Unauthenticated(t *testing.T) {
	f := newAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/appointments", nil)
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHTTPError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{appointment.ErrNotFound, http.StatusNotFound},
		{&appointment.TransitionError{From: appointment.StatusCancelled, To: appointment.StatusConfirmed}, http.StatusConflict},
		{&appointment.StaleStateError{Current: appointment.StatusConfirmed}, http.StatusConflict},
		{appointment.ErrNotEligible, http.StatusConflict},
		{appointment.ErrMissingReason, http.StatusUnprocessableEntity},
		{appointment.ErrNotPermitted, http.StatusForbidden},
		{appointment.ErrInvalidInput, http.StatusBadRequest},
		{fmt.Errorf("get: %w", appointment.ErrStoreUnavailable), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			var he *echo.HTTPError
			require.True(t, errors.As(appointment.HTTPError(tt.err), &he))
			assert.Equal(t, tt.want, he.Code)
		})
	}
}
