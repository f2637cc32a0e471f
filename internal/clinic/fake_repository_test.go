package clinic

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type fakeRepo struct {
	mu         sync.Mutex
	patients   map[uuid.UUID]*Patient
	doctors    map[uuid.UUID]*Doctor
	treatments map[uuid.UUID]*Treatment
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		patients:   map[uuid.UUID]*Patient{},
		doctors:    map[uuid.UUID]*Doctor{},
		treatments: map[uuid.UUID]*Treatment{},
	}
}

func (f *fakeRepo) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.patients[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, ErrPatientNotFound
}

func (f *fakeRepo) GetPatientByDocument(_ context.Context, doc string) (*Patient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.patients {
		if p.DocumentNumber == doc {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrPatientNotFound
}

func (f *fakeRepo) CreatePatient(_ context.Context, pr Profile) (*Patient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.patients {
		if p.DocumentNumber == pr.DocumentNumber {
			cp := *p
			return &cp, nil
		}
	}
	p := &Patient{ID: uuid.New(), DocumentNumber: pr.DocumentNumber, Name: pr.Name, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	f.patients[p.ID] = p
	cp := *p
	return &cp, nil
}

func (f *fakeRepo) GetDoctorByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	if d, ok := f.doctors[id]; ok {
		return d, nil
	}
	return nil, ErrDoctorNotFound
}

func (f *fakeRepo) ListDoctors(context.Context) ([]Doctor, error) {
	var out []Doctor
	for _, d := range f.doctors {
		out = append(out, *d)
	}
	return out, nil
}

func (f *fakeRepo) GetTreatmentByID(_ context.Context, id uuid.UUID) (*Treatment, error) {
	if t, ok := f.treatments[id]; ok {
		return t, nil
	}
	return nil, ErrTreatmentNotFound
}

func (f *fakeRepo) ListTreatments(context.Context) ([]Treatment, error) {
	var out []Treatment
	for _, t := range f.treatments {
		out = append(out, *t)
	}
	return out, nil
}
