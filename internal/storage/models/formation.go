// Package models contains the domain models for the application.
package models

// FormationRecord is a formation as returned by the backend for the current
// manager. It is never modified by this service.
type FormationRecord struct {
	ID        int64   `json:"id"`
	Name      string  `json:"nom"`
	StartDate string  `json:"dateDebut"`
	EndDate   *string `json:"dateFin,omitempty"`
	Status    string  `json:"statut"`
}

// EndDateOrEmpty returns the end date, or "" when the backend sent none.
func (f FormationRecord) EndDateOrEmpty() string {
	if f.EndDate == nil {
		return ""
	}
	return *f.EndDate
}

// Formation status values reported by the backend.
const (
	FormationStatusPlanned    = "PLANIFIEE"
	FormationStatusInProgress = "EN_COURS"
	FormationStatusDone       = "TERMINEE"
	FormationStatusCancelled  = "ANNULEE"
)
