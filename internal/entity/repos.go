package entity

import (
	"github.com/medisync/medisync/internal/bus"
	"github.com/medisync/medisync/internal/store"
	"go.uber.org/zap"
)

// Default sync priorities. Consultations carry the clinically urgent data and
// drain first during partial connectivity.
const (
	PriorityConsultations = 3
	PriorityPatients      = 2
	PriorityPrescriptions = 2
)

// Patients is the repository for patient records.
type Patients struct {
	*Repo[Patient, *Patient]
}

// NewPatients creates the patient repository.
func NewPatients(db *store.DB, b *bus.Bus, logger *zap.Logger) *Patients {
	return &Patients{NewRepo[Patient](db, store.Patients, PriorityPatients, b, logger)}
}

// Consultations is the repository for consultation records.
type Consultations struct {
	*Repo[Consultation, *Consultation]
}

// NewConsultations creates the consultation repository.
func NewConsultations(db *store.DB, b *bus.Bus, logger *zap.Logger) *Consultations {
	return &Consultations{NewRepo[Consultation](db, store.Consultations, PriorityConsultations, b, logger)}
}

// Drafts returns in-progress consultations.
func (c *Consultations) Drafts() ([]*Consultation, error) {
	return c.byIndex(store.ByDraft, true)
}

// ByPatient returns the patient's consultations, most recent first.
func (c *Consultations) ByPatient(patientID string) ([]*Consultation, error) {
	return c.byIndex(store.ByPatient, patientID)
}

// Prescriptions is the repository for prescription records.
type Prescriptions struct {
	*Repo[Prescription, *Prescription]
}

// NewPrescriptions creates the prescription repository.
func NewPrescriptions(db *store.DB, b *bus.Bus, logger *zap.Logger) *Prescriptions {
	return &Prescriptions{NewRepo[Prescription](db, store.Prescriptions, PriorityPrescriptions, b, logger)}
}

// Drafts returns in-progress prescriptions.
func (p *Prescriptions) Drafts() ([]*Prescription, error) {
	return p.byIndex(store.ByDraft, true)
}

// ByPatient returns the patient's prescriptions, most recent first.
func (p *Prescriptions) ByPatient(patientID string) ([]*Prescription, error) {
	return p.byIndex(store.ByPatient, patientID)
}
