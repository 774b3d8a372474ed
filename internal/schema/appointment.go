package schema

import "time"

// AppointmentType distinguishes remote from in-person visits.
type AppointmentType string

const (
	AppointmentTelevisit AppointmentType = "TELEVISIT"
	AppointmentOnsite    AppointmentType = "ONSITE"
)

// AppointmentStatus is the scheduling status of an appointment.
type AppointmentStatus string

const (
	AppointmentScheduled  AppointmentStatus = "SCHEDULED"
	AppointmentCancelled  AppointmentStatus = "CANCELLED"
	AppointmentCompleted  AppointmentStatus = "COMPLETED"
	AppointmentInProgress AppointmentStatus = "IN_PROGRESS"
)

// Appointment is a clinic visit. Appointments live in key-value storage,
// not the record store, and are keyed by AppointmentID.
type Appointment struct {
	AppointmentID       string            `json:"appointmentId"`
	EventID             string            `json:"eventId,omitempty"`
	PatientID           string            `json:"patientId,omitempty"`
	SiteID              string            `json:"siteId,omitempty"`
	Title               string            `json:"title"`
	Description         string            `json:"description,omitempty"`
	AppointmentType     AppointmentType   `json:"appointmentType"`
	Status              AppointmentStatus `json:"status"`
	StartAt             string            `json:"startAt"` // ISO-8601
	EndAt               string            `json:"endAt"`   // ISO-8601
	Instructions        string            `json:"instructions,omitempty"`
	TelehealthMeetingID *string           `json:"telehealthMeetingId,omitempty"`
	Data                string            `json:"data,omitempty"`
	IsDeleted           int               `json:"isDeleted"`
	Rescheduled         int               `json:"rescheduled"`
	Version             int               `json:"version"`
	CreatedAt           string            `json:"createdAt,omitempty"`
	UpdatedAt           string            `json:"updatedAt,omitempty"`
	TypeName            string            `json:"__typename,omitempty"`
}

// Start parses StartAt.
func (a *Appointment) Start() (time.Time, error) {
	return time.Parse(time.RFC3339, a.StartAt)
}

// End parses EndAt.
func (a *Appointment) End() (time.Time, error) {
	return time.Parse(time.RFC3339, a.EndAt)
}

// AppointmentData is the opaque bundle stored under one key-value entry.
type AppointmentData struct {
	ClinicPatientAppointments ClinicPatientAppointments `json:"clinicPatientAppointments"`
	SiteTimezoneID            string                    `json:"siteTimezoneId,omitempty"`
}

type ClinicPatientAppointments struct {
	ClinicAppointments ClinicAppointments `json:"clinicAppointments"`
}

type ClinicAppointments struct {
	Items []Appointment `json:"items"`
}

// NewAppointmentData wraps a list of appointments in the bundle envelope.
func NewAppointmentData(items []Appointment, timezoneID string) *AppointmentData {
	return &AppointmentData{
		ClinicPatientAppointments: ClinicPatientAppointments{
			ClinicAppointments: ClinicAppointments{Items: items},
		},
		SiteTimezoneID: timezoneID,
	}
}

// Items returns the raw appointment list, deleted entries included.
func (d *AppointmentData) Items() []Appointment {
	if d == nil {
		return nil
	}
	return d.ClinicPatientAppointments.ClinicAppointments.Items
}
