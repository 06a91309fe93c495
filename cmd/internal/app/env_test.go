package app

import (
	"reflect"
	"testing"
	"time"
)

func TestEnvHelpers(t *testing.T) {
	t.Setenv("DEVMATCH_T_STR", "  value ")
	t.Setenv("DEVMATCH_T_BOOL", "true")
	t.Setenv("DEVMATCH_T_BAD_BOOL", "maybe")
	t.Setenv("DEVMATCH_T_INT", "42")
	t.Setenv("DEVMATCH_T_NEG_INT", "-3")
	t.Setenv("DEVMATCH_T_INT32", "7")
	t.Setenv("DEVMATCH_T_DUR", "90s")
	t.Setenv("DEVMATCH_T_DUR_OFF", "off")
	t.Setenv("DEVMATCH_T_DUR_NEG", "-1s")
	t.Setenv("DEVMATCH_T_CSV", "a, ,b,")

	if got := EnvString("DEVMATCH_T_STR", "def"); got != "value" {
		t.Fatalf("EnvString=%q", got)
	}
	if got := EnvString("DEVMATCH_T_UNSET", "def"); got != "def" {
		t.Fatalf("EnvString default=%q", got)
	}
	if !EnvBool("DEVMATCH_T_BOOL", false) || !EnvBool("DEVMATCH_T_BAD_BOOL", true) {
		t.Fatalf("EnvBool mismatch")
	}
	if got := EnvInt("DEVMATCH_T_INT", 1); got != 42 {
		t.Fatalf("EnvInt=%d", got)
	}
	if got := EnvInt("DEVMATCH_T_NEG_INT", 1); got != 1 {
		t.Fatalf("EnvInt negative should fall back, got %d", got)
	}
	if got := EnvInt32("DEVMATCH_T_INT32", 0); got != 7 {
		t.Fatalf("EnvInt32=%d", got)
	}
	if got := EnvDuration("DEVMATCH_T_DUR", time.Second); got != 90*time.Second {
		t.Fatalf("EnvDuration=%v", got)
	}
	if got := EnvDuration("DEVMATCH_T_DUR_OFF", time.Second); got != 0 {
		t.Fatalf("EnvDuration off=%v", got)
	}
	if got := EnvDuration("DEVMATCH_T_DUR_NEG", time.Second); got != time.Second {
		t.Fatalf("EnvDuration negative should fall back, got %v", got)
	}
	if got := EnvCSV("DEVMATCH_T_CSV", "x"); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("EnvCSV=%v", got)
	}
	if got := EnvCSV("DEVMATCH_T_UNSET", "x,y"); !reflect.DeepEqual(got, []string{"x", "y"}) {
		t.Fatalf("EnvCSV default=%v", got)
	}
	if got := EnvCSV("DEVMATCH_T_UNSET", ""); got != nil {
		t.Fatalf("EnvCSV empty=%v", got)
	}
}
