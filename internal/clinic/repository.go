package clinic

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetPatientByDocument(ctx context.Context, documentNumber string) (*Patient, error)
	CreatePatient(ctx context.Context, p Profile) (*Patient, error)

	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	ListDoctors(ctx context.Context) ([]Doctor, error)

	GetTreatmentByID(ctx context.Context, id uuid.UUID) (*Treatment, error)
	ListTreatments(ctx context.Context) ([]Treatment, error)
}
