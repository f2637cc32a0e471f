package clinic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/apperr"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// RegisterPatient creates a patient from a profile, or returns the existing
// one holding the same document number.
func (s *Service) RegisterPatient(ctx context.Context, p Profile) (*Patient, error) {
	p.DocumentNumber = strings.TrimSpace(p.DocumentNumber)
	p.Name = strings.TrimSpace(p.Name)

	fields := map[string]string{}
	if p.DocumentNumber == "" {
		fields["document_number"] = "is required"
	}
	if p.Name == "" {
		fields["name"] = "is required"
	}
	if len(fields) > 0 {
		return nil, apperr.Invalid(fields)
	}

	patient, err := s.repo.CreatePatient(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("register patient: %w", err)
	}
	return patient, nil
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := s.repo.GetPatientByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get patient: %w", err)
	}
	return p, nil
}

// LookupPatientByDocument returns nil, nil when no patient holds the number.
func (s *Service) LookupPatientByDocument(ctx context.Context, documentNumber string) (*Patient, error) {
	p, err := s.repo.GetPatientByDocument(ctx, strings.TrimSpace(documentNumber))
	if errors.Is(err, ErrPatientNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup patient: %w", err)
	}
	return p, nil
}

func (s *Service) ListDoctors(ctx context.Context) ([]Doctor, error) {
	doctors, err := s.repo.ListDoctors(ctx)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	return doctors, nil
}

func (s *Service) ListTreatments(ctx context.Context) ([]Treatment, error) {
	treatments, err := s.repo.ListTreatments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list treatments: %w", err)
	}
	return treatments, nil
}
