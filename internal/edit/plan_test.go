package edit

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyToText_Replace(t *testing.T) {
	out, err := applyToText("hello world\n", Edit{Operation: OpReplace, TargetString: "world", ReplacementString: "there"})
	require.NoError(t, err)
	assert.Equal(t, "hello there\n", out)
}

func TestApplyToText_InsertBefore(t *testing.T) {
	out, err := applyToText("a\nb\n", Edit{
		InsertMode: InsertBefore, InsertLineRange: &LineRange{Start: 2}, ReplacementString: "x",
	})
	require.NoError(t, err)
	assert.Equal(t, "a\nx\nb\n", out)
}

func TestApplyToText_InsertAfter(t *testing.T) {
	out, err := applyToText("a\nb\n", Edit{
		InsertMode: InsertAfter, InsertLineRange: &LineRange{Start: 1}, ReplacementString: "x",
	})
	require.NoError(t, err)
	assert.Equal(t, "a\nx\nb\n", out)
}

func TestApplyToText_InsertAtReplacesLines(t *testing.T) {
	out, err := applyToText("a\nb\nc\n", Edit{
		InsertMode: InsertAt, InsertLineRange: &LineRange{Start: 2, End: 3}, ReplacementString: "x\ny",
	})
	require.NoError(t, err)
	assert.Equal(t, "a\nx\ny\n", out)
}

func TestApplyToText_InsertInvalidRange(t *testing.T) {
	_, err := applyToText("a\n", Edit{InsertMode: InsertBefore, InsertLineRange: &LineRange{Start: 9}})
	assert.Error(t, err)

	_, err = applyToText("a\n", Edit{InsertMode: InsertBefore})
	assert.ErrorIs(t, err, ErrMissingParameter)
}

func TestCheckDeleteSafety_SmallFileNoGate(t *testing.T) {
	assert.NoError(t, checkDeleteSafety(Edit{}, []byte("tiny"), "h"))
}

func TestCheckDeleteSafety_BigFileRequiresHash(t *testing.T) {
	big := []byte(strings.Repeat("line\n", 200))
	hash := hashBytes(big)

	err := checkDeleteSafety(Edit{}, big, hash)
	assert.ErrorIs(t, err, ErrMissingParameter)

	assert.NoError(t, checkDeleteSafety(Edit{ConfirmationHash: hash}, big, hash))

	err = checkDeleteSafety(Edit{ConfirmationHash: "wrong"}, big, hash)
	assert.ErrorIs(t, err, ErrHashMismatch)
}

// safety_level=force bypasses the size gate only: a wrong confirmation
// hash still fails even when forced.
func TestCheckDeleteSafety_ForceSemantics(t *testing.T) {
	big := []byte(strings.Repeat("line\n", 200))
	hash := hashBytes(big)

	assert.NoError(t, checkDeleteSafety(Edit{SafetyLevel: "force"}, big, hash))

	err := checkDeleteSafety(Edit{SafetyLevel: "force", ConfirmationHash: "wrong"}, big, hash)
	assert.ErrorIs(t, err, ErrHashMismatch)
}

func TestDiff_ChangedBlock(t *testing.T) {
	d := Diff("f.txt", "a\nb\nc\n", "a\nB\nc\n")
	assert.Contains(t, d, "-b")
	assert.Contains(t, d, "+B")
	assert.Contains(t, d, "--- f.txt")
}

func TestDiff_NoChange(t *testing.T) {
	assert.Empty(t, Diff("f", "same\n", "same\n"))
}

func TestDiff_CreateAndDelete(t *testing.T) {
	d := Diff("f", "", "new\n")
	assert.Contains(t, d, "+new")

	d = Diff("f", "old\n", "")
	assert.Contains(t, d, "-old")
}
