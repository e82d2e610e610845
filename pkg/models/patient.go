package models

import "time"

// Patient is upserted by its caller-supplied natural key. Later uploads for
// the same PatientID overwrite Name, Age and OwnerID; Revision counts writes.
type Patient struct {
	PatientID string    `db:"patient_id" json:"patientId"`
	Name      string    `db:"name"       json:"name"`
	Age       int       `db:"age"        json:"age"`
	OwnerID   string    `db:"owner_id"   json:"ownerId"`
	Revision  int64     `db:"revision"   json:"revision"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}
