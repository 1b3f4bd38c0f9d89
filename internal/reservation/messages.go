package reservation

import (
	"bytes"
	"fmt"
	"text/template"
	"time"
)

const (
	msgDoctorNewRequest   = "doctor_new_request"
	msgDoctorApproved     = "doctor_approved"
	msgDoctorExpired      = "doctor_expired"
	msgPatientApproved    = "patient_approved"
	msgPatientRejected    = "patient_rejected"
	msgPatientExpired     = "patient_expired"
	msgPatientCancelled   = "patient_cancelled"
	msgPatientReminder24h = "patient_reminder_24h"
	msgPatientReminder2h  = "patient_reminder_2h"
	msgPatientFollowUp    = "patient_follow_up"
)

// messageData is what every template may reference.
type messageData struct {
	PatientName string
	DoctorName  string
	ServiceName string
	When        time.Time
	Reason      string
}

var messageTemplates = template.Must(template.New("messages").Funcs(template.FuncMap{
	"date": func(t time.Time) string { return t.Format("Mon 02 Jan 2006 15:04") },
}).Parse(`
{{define "doctor_new_request"}}New appointment request from {{.PatientName}} for {{.ServiceName}} on {{date .When}}. Please approve or reject it.{{end}}
{{define "doctor_approved"}}Appointment confirmed: {{.PatientName}}, {{.ServiceName}} on {{date .When}}.{{end}}
{{define "doctor_expired"}}The request from {{.PatientName}} for {{.ServiceName}} on {{date .When}} expired without an answer.{{end}}
{{define "patient_approved"}}Hi {{.PatientName}}, your appointment with {{.DoctorName}} for {{.ServiceName}} on {{date .When}} is confirmed.{{end}}
{{define "patient_rejected"}}Hi {{.PatientName}}, your request with {{.DoctorName}} for {{date .When}} could not be accepted.{{if .Reason}} Reason: {{.Reason}}.{{end}}{{end}}
{{define "patient_expired"}}Hi {{.PatientName}}, your request with {{.DoctorName}} for {{date .When}} expired before it was confirmed. Please book another time.{{end}}
{{define "patient_cancelled"}}Hi {{.PatientName}}, your appointment with {{.DoctorName}} on {{date .When}} has been cancelled.{{if .Reason}} Reason: {{.Reason}}.{{end}}{{end}}
{{define "patient_reminder_24h"}}Reminder: {{.PatientName}}, you have an appointment with {{.DoctorName}} tomorrow, {{date .When}}.{{end}}
{{define "patient_reminder_2h"}}Reminder: {{.PatientName}}, your appointment with {{.DoctorName}} starts in 2 hours, at {{date .When}}.{{end}}
{{define "patient_follow_up"}}Hi {{.PatientName}}, how are you feeling after your visit with {{.DoctorName}}? Reply to let us know.{{end}}
`))

func renderMessage(name string, data messageData) (string, error) {
	var buf bytes.Buffer
	if err := messageTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}
