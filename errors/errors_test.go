package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap(t *testing.T) {
	original := New("original")
	wrapped := Wrap(original, "wrapped")

	assert.Contains(t, wrapped.Error(), "wrapped")
	assert.Contains(t, wrapped.Error(), "original")
	assert.True(t, Is(wrapped, original))
}

func TestMarkSurvivesWrapping(t *testing.T) {
	err := Mark(New("connection refused"), ErrExtraction)
	err = Wrapf(err, "job %d", 7)

	assert.True(t, Is(err, ErrExtraction))
	assert.False(t, Is(err, ErrGate))
	assert.Equal(t, "job 7: connection refused", err.Error())
}

func TestNotReadOnlyIsExtraction(t *testing.T) {
	err := Wrap(ErrNotReadOnly, "job 3")
	assert.True(t, Is(err, ErrNotReadOnly))
	assert.True(t, Is(err, ErrExtraction))
	assert.Equal(t, "extraction", Kind(err))
}

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{NewDefinitionError("bad day %q", "Xyz"), "definition"},
		{Mark(New("x"), ErrGate), "gate"},
		{Mark(New("x"), ErrResourceExhausted), "resource_exhausted"},
		{Mark(New("x"), ErrExport), "export"},
		{New("plain"), "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, Kind(tt.err))
		})
	}
}

func TestWithDetail(t *testing.T) {
	err := WithDetail(New("gate not satisfied"), "open: A, B")

	details := GetAllDetails(err)
	require.Len(t, details, 1)
	assert.Equal(t, "open: A, B", details[0])
}

func TestNilHandling(t *testing.T) {
	assert.Nil(t, Wrap(nil, "context"))
	assert.Nil(t, Wrapf(nil, "context %d", 1))
	assert.Nil(t, WithDetail(nil, "detail"))
	assert.False(t, IsNotFoundError(nil))
}

func TestIsNotFoundError(t *testing.T) {
	assert.True(t, IsNotFoundError(Wrapf(ErrNotFound, "job %d", 1)))
	assert.False(t, IsNotFoundError(New("other")))
}

func ExampleWrap() {
	baseErr := New("connection failed")
	err := Wrap(baseErr, "failed to connect to warehouse")
	fmt.Println(err)
	// Output: failed to connect to warehouse: connection failed
}
