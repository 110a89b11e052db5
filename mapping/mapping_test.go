package mapping

import (
	"errors"
	"testing"
	"time"

	"snap/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type person struct {
	ID        int64          `map:"ID"`
	Name      string         `map:"Name"`
	Secret    string         `map:"-"`
	Gender    storage.Gender `map:"Gender"`
	CreatedAt time.Time      `map:"-"`
}

type personDTO struct {
	ID        int64     `map:"ID"`
	Name      string    `map:"Name"`
	Secret    string    `map:"Secret"`
	Gender    string    `map:"Gender"`
	CreatedAt time.Time `map:"-"`
}

type personForm struct {
	Name   string `map:"Name"`
	Gender string `map:"Gender"`
}

func TestRegisterAuto(t *testing.T) {
	m := New()
	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, RegisterAuto(m, func(src person, dst *personDTO) {
		dst.CreatedAt = src.CreatedAt
	}))

	dto, err := Map[personDTO](m, person{ID: 7, Name: "Ada", Secret: "x", Gender: storage.GenderFemale, CreatedAt: created})
	require.NoError(t, err)
	assert.Equal(t, int64(7), dto.ID)
	assert.Equal(t, "Ada", dto.Name)
	assert.Empty(t, dto.Secret, "fields tagged map:\"-\" are not copied")
	assert.Equal(t, "Female", dto.Gender)
	assert.Equal(t, created, dto.CreatedAt)
}

func TestRegisterAuto_ParsesGender(t *testing.T) {
	m := New()
	require.NoError(t, RegisterAuto[personForm, person](m))

	p, err := Map[person](m, personForm{Name: "Bob", Gender: "male"})
	require.NoError(t, err)
	assert.Equal(t, storage.GenderMale, p.Gender)

	_, err = Map[person](m, personForm{Gender: "robot"})
	assert.Error(t, err)
}

func TestRegister_Explicit(t *testing.T) {
	m := New()
	boom := errors.New("boom")
	require.NoError(t, Register(m, func(p person) (personForm, error) {
		if p.Name == "" {
			return personForm{}, boom
		}
		return personForm{Name: p.Name}, nil
	}))

	f, err := Map[personForm](m, person{Name: "Eve"})
	require.NoError(t, err)
	assert.Equal(t, "Eve", f.Name)

	_, err = Map[personForm](m, person{})
	assert.ErrorIs(t, err, boom)
}

func TestMap_Unregistered(t *testing.T) {
	m := New()
	_, err := Map[personDTO](m, personForm{})
	assert.ErrorIs(t, err, ErrNoMapping)
}

func TestRegister_Duplicate(t *testing.T) {
	m := New()
	require.NoError(t, RegisterAuto[person, personDTO](m))
	assert.ErrorIs(t, RegisterAuto[person, personDTO](m), ErrDuplicateMapping)
	assert.Equal(t, []string{"mapping.person -> mapping.personDTO"}, m.Pairs())
}

func TestMapSlice(t *testing.T) {
	m := New()
	require.NoError(t, RegisterAuto[person, personDTO](m))

	out, err := MapSlice[personDTO](m, []person{{Name: "a"}, {Name: "b"}})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "b", out[1].Name)
	assert.Equal(t, "Unspecified", out[0].Gender)
}
