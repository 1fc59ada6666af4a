package matcherr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestKindSurvivesWrapping(t *testing.T) {
	base := AmbiguousDictionary(`"repositor" and "jefe de repositores" both match at length 9`)
	wrapped := fmt.Errorf("posting p-1: %w", base)

	if got := KindOf(wrapped); got != KindAmbiguousDictionary {
		t.Fatalf("expected %s, got %q", KindAmbiguousDictionary, got)
	}
	if !Is(wrapped, KindAmbiguousDictionary) {
		t.Fatalf("Is should see through fmt wrapping")
	}
	if Is(wrapped, KindMissingInput) {
		t.Fatalf("unexpected kind match")
	}
	if KindOf(errors.New("plain")) != "" {
		t.Fatalf("plain errors carry no kind")
	}
}

func TestErrorMessageAndStack(t *testing.T) {
	cause := errors.New("open reference/occupations.json: no such file")
	err := Config("load taxonomy", cause)

	if !strings.HasPrefix(err.Error(), "CONFIG: load taxonomy: ") {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Fatalf("Unwrap should expose the cause")
	}
	if len(err.StackTrace()) == 0 {
		t.Fatalf("expected a captured stack")
	}

	bare := MissingInput("posting has no title")
	if bare.Error() != "MISSING_INPUT: posting has no title" {
		t.Fatalf("unexpected message %q", bare.Error())
	}
	if len(bare.StackTrace()) == 0 {
		t.Fatalf("expected a captured stack for errors without cause")
	}
}
