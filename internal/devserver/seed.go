package devserver

import (
	"fmt"

	"github.com/florianilch/mindline/internal/resources"
)

// SeedPassword is the password of every seeded account.
const SeedPassword = "mindline-dev"

// Seeded account emails.
const (
	SeedPatientEmail      = "patient@example.com"
	SeedPsychologistEmail = "dr.rivera@example.com"
	SeedClinicEmail       = "clinic@example.com"
)

func (s *state) seed() error {
	patient, err := s.register(SeedPatientEmail, SeedPassword, "Sam Patient", resources.RolePatient)
	if err != nil {
		return fmt.Errorf("seeding patient: %w", err)
	}
	clinic, err := s.register(SeedClinicEmail, SeedPassword, "Harbor Clinic", resources.RoleClinic)
	if err != nil {
		return fmt.Errorf("seeding clinic: %w", err)
	}

	directory := []struct {
		email, name, bio string
		specialties      []string
		languages        []string
		clinic           bool
		accepting        bool
	}{
		{
			email:       SeedPsychologistEmail,
			name:        "Dr. Ana Rivera",
			bio:         "Cognitive behavioural therapy for anxiety and mood disorders.",
			specialties: []string{"anxiety", "depression", "cbt"},
			languages:   []string{"en", "es"},
			clinic:      true,
			accepting:   true,
		},
		{
			email:       "dr.okafor@example.com",
			name:        "Dr. Chidi Okafor",
			bio:         "Trauma-informed care and grief counselling.",
			specialties: []string{"trauma", "grief"},
			languages:   []string{"en"},
			accepting:   false,
		},
	}

	for _, d := range directory {
		u, err := s.register(d.email, SeedPassword, d.name, resources.RolePsychologist)
		if err != nil {
			return fmt.Errorf("seeding psychologist %s: %w", d.email, err)
		}
		p := resources.Psychologist{
			ID:              u.ID,
			Name:            d.name,
			Specialties:     d.specialties,
			Languages:       d.languages,
			Bio:             d.bio,
			AcceptsPatients: d.accepting,
		}
		if d.clinic {
			p.ClinicID = clinic.ID
		}
		s.addPsychologist(p)

		if d.email == SeedPsychologistEmail {
			s.connect(u.ID, patient.ID, "Hi Sam, welcome. How have you been feeling this week?")
		}
	}

	return nil
}
