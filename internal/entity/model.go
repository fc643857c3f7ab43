package entity

// Entity is the minimal structural contract the repository needs from a
// domain payload: a stable id it can read and, for freshly created records,
// assign. The core stays ignorant of every other field.
type Entity interface {
	EntityID() string
	SetEntityID(id string)
}

// Owned is implemented by secondary records that belong to a patient and can
// exist in a draft (in-progress, not-yet-finalized) state. Drafts are exempt
// from cache eviction.
type Owned interface {
	Entity
	OwnerID() string
	Draft() bool
}

// Patient is a registered patient record. Only ID matters to the sync core;
// the remaining fields pass through opaquely to the remote backend.
type Patient struct {
	ID         string `json:"id"`
	UHID       string `json:"uhid,omitempty"`
	Name       string `json:"name,omitempty"`
	Age        int    `json:"age,omitempty"`
	Gender     string `json:"gender,omitempty"`
	Phone      string `json:"phone,omitempty"`
	FacilityID string `json:"facility_id,omitempty"`
	CreatedAt  int64  `json:"created_at,omitempty"`
	UpdatedAt  int64  `json:"updated_at,omitempty"`
}

func (p *Patient) EntityID() string      { return p.ID }
func (p *Patient) SetEntityID(id string) { p.ID = id }

// Consultation is a clinical encounter, possibly still a draft.
type Consultation struct {
	ID             string `json:"id"`
	PatientID      string `json:"patient_id"`
	DoctorID       string `json:"doctor_id,omitempty"`
	ChiefComplaint string `json:"chief_complaint,omitempty"`
	Diagnosis      string `json:"diagnosis,omitempty"`
	Notes          string `json:"notes,omitempty"`
	IsDraft        bool   `json:"is_draft"`
	ScheduledAt    int64  `json:"scheduled_at,omitempty"`
	CreatedAt      int64  `json:"created_at,omitempty"`
	UpdatedAt      int64  `json:"updated_at,omitempty"`
}

func (c *Consultation) EntityID() string      { return c.ID }
func (c *Consultation) SetEntityID(id string) { c.ID = id }
func (c *Consultation) OwnerID() string       { return c.PatientID }
func (c *Consultation) Draft() bool           { return c.IsDraft }

// Prescription is a medication order tied to a patient and optionally a
// consultation.
type Prescription struct {
	ID             string       `json:"id"`
	PatientID      string       `json:"patient_id"`
	ConsultationID string       `json:"consultation_id,omitempty"`
	Medications    []Medication `json:"medications,omitempty"`
	IsDraft        bool         `json:"is_draft"`
	CreatedAt      int64        `json:"created_at,omitempty"`
	UpdatedAt      int64        `json:"updated_at,omitempty"`
}

func (p *Prescription) EntityID() string      { return p.ID }
func (p *Prescription) SetEntityID(id string) { p.ID = id }
func (p *Prescription) OwnerID() string       { return p.PatientID }
func (p *Prescription) Draft() bool           { return p.IsDraft }

// Medication is one line of a prescription.
type Medication struct {
	Name     string `json:"name"`
	Dosage   string `json:"dosage,omitempty"`
	Duration string `json:"duration,omitempty"`
}
