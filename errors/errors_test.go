package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:   PhaseEncode,
				Kind:    KindTypeMismatch,
				Path:    []string{"user", "address", "zip"},
				GoType:  "string",
				WitType: "u32",
				Detail:  "cannot convert",
			},
			contains: []string{"[encode]", "type_mismatch", "user.address.zip", "string", "u32", "cannot convert"},
		},
		{
			name:     "minimal error",
			err:      &Error{Phase: PhaseDecode, Kind: KindOutOfBounds},
			contains: []string{"[decode]", "out_of_bounds"},
		},
		{
			name:     "error with cause",
			err:      HostCall("example:host/host", "get-data", errors.New("disk on fire")),
			contains: []string{"[host]", "host_call", "example:host/host#get-data", "caused by", "disk on fire"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				require.Contains(t, msg, s)
			}
		})
	}
}

func TestError_UnwrapAndIs(t *testing.T) {
	cause := errors.New("root cause")
	err := fmt.Errorf("outer: %w", GuestTrap("run", cause))

	require.ErrorIs(t, err, cause)
	require.True(t, IsKind(err, KindGuestTrap))
	require.False(t, IsKind(err, KindHostCall))
	require.Equal(t, KindGuestTrap, KindOf(err))

	// Phase-qualified targets must match both fields.
	require.ErrorIs(t, err, &Error{Phase: PhaseGuest, Kind: KindGuestTrap})
	require.NotErrorIs(t, err, &Error{Phase: PhaseHost, Kind: KindGuestTrap})
}

func TestBuilder(t *testing.T) {
	err := New(PhaseEncode, KindTypeMismatch).
		Path("a", "b").
		GoType("string").
		WitType("u32").
		Value(42).
		Detail("value %d", 42).
		Cause(errors.New("x")).
		Build()

	require.Equal(t, PhaseEncode, err.Phase)
	require.Equal(t, []string{"a", "b"}, err.Path)
	require.Equal(t, "value 42", err.Detail)
	require.Equal(t, 42, err.Value)
	require.EqualError(t, err.Unwrap(), "x")
}

func TestConstructionErrors(t *testing.T) {
	dup := Duplicate("wasi_snapshot_preview1", "fd_write", "wasi")
	require.True(t, IsKind(dup, KindLinkDuplicate))
	require.Contains(t, dup.Error(), "wasi_snapshot_preview1#fd_write already defined by wasi")

	ns := Duplicate("wasi_snapshot_preview1", "", "")
	require.Contains(t, ns.Error(), "namespace wasi_snapshot_preview1 already defined")

	require.True(t, IsKind(EngineConfig("bad", nil), KindEngineConfig))
	require.True(t, IsKind(CapabilityInstall("wasi", nil), KindCapabilityInstall))
	require.True(t, IsKind(Frozen("a", "b"), KindLinkFrozen))
}

func TestResourceNotFound(t *testing.T) {
	err := ResourceNotFound(7, nil)
	require.Equal(t, uint32(7), err.Value)
	require.Contains(t, err.Error(), "handle 7")
}

func TestMissingImportsError(t *testing.T) {
	err := NewMissingImportsError([]string{
		"wasi_snapshot_preview1#fd_write",
		"example:host/host#get-data",
		"wasi_snapshot_preview1#proc_exit",
		"bare",
	})

	require.Len(t, err.Imports, 4)
	require.Equal(t, MissingImport{Namespace: "bare"}, err.Imports[3])

	msg := err.Error()
	require.Contains(t, msg, "missing 4 host function(s)")
	require.Contains(t, msg, "wasi_snapshot_preview1:\n    - fd_write\n    - proc_exit")

	wrapped := Instantiation(err)
	require.ErrorIs(t, wrapped, &MissingImportsError{})
	require.True(t, IsKind(wrapped, KindInstantiation))

	var mie *MissingImportsError
	require.ErrorAs(t, wrapped, &mie)
	require.Len(t, mie.Imports, 4)

	require.Contains(t, (&MissingImportsError{}).Error(), "no imports specified")
}
