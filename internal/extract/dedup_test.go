package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdentityKey(t *testing.T) {
	assert.Equal(t, "01012345678", IdentityKey(Record{Name: "홍길동", Phone: "01012345678", BirthDate: "1990-05-01"}))
	assert.Equal(t, "홍길동|1990-05-01", IdentityKey(Record{Name: "홍길동", BirthDate: "1990-05-01", BirthDateRaw: "1990.05.01"}))
	assert.Equal(t, "홍길동|raw:1899-01-01", IdentityKey(Record{Name: "홍길동", BirthDateRaw: " 1899-01-01 "}))
	assert.Equal(t, "홍길동|raw:", IdentityKey(Record{Name: "홍길동"}))
}

func TestDeduper_UnnormalizedBirthDatesStayDistinct(t *testing.T) {
	d := NewDeduper()

	assert.True(t, d.Accept(Record{Name: "홍길동", BirthDateRaw: "1899-01-01"}))
	assert.True(t, d.Accept(Record{Name: "홍길동", BirthDateRaw: "1850-03-03"}))
	assert.False(t, d.Accept(Record{Name: "홍길동", BirthDateRaw: "1850-03-03"}))
	assert.True(t, d.Accept(Record{Name: "홍길동", BirthDate: "1990-05-01", BirthDateRaw: "1990-05-01"}))

	assert.Equal(t, 1, d.Duplicates())
}

func TestDeduper_FirstSeenWins(t *testing.T) {
	d := NewDeduper()

	assert.True(t, d.Accept(Record{Name: "홍길동", Phone: "01012345678"}))
	assert.False(t, d.Accept(Record{Name: "김철수", Phone: "01012345678"}))
	assert.True(t, d.Accept(Record{Name: "홍길동", BirthDate: "1990-05-01"}))
	assert.False(t, d.Accept(Record{Name: "홍길동", BirthDate: "1990-05-01"}))
	assert.True(t, d.Accept(Record{Name: "홍길동", BirthDate: "1990-05-02"}))

	assert.Equal(t, 2, d.Duplicates())
	assert.Equal(t, 3, d.Seen())
}

func TestDeduper_Reset(t *testing.T) {
	d := NewDeduper()
	d.Accept(Record{Phone: "01012345678"})
	d.Accept(Record{Phone: "01012345678"})

	d.Reset()
	assert.Equal(t, 0, d.Duplicates())
	assert.Equal(t, 0, d.Seen())
	assert.True(t, d.Accept(Record{Phone: "01012345678"}))
}
