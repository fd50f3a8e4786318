package build

// Release and DEBUG are assigned at build time (via -ldflags or a build tag
// in production); the zero values below make "go test" run in the testing
// configuration without any extra flags.
var (
	// Release is one of "standard", "dev", or "testing".
	Release = "testing"

	// DEBUG controls whether Critical/Severe panic instead of merely
	// logging. It is force-enabled for the testing release.
	DEBUG = Release != "standard"
)

// Var represents a value that depends on which Release is active. None of
// the fields may be nil, and all fields should hold the same underlying
// type.
type Var struct {
	Standard interface{}
	Dev      interface{}
	Testing  interface{}
}

// Select returns the field of v that corresponds to the current Release.
func Select(v Var) interface{} {
	if v.Standard == nil || v.Dev == nil || v.Testing == nil {
		panic("nil value in build variable")
	}
	switch Release {
	case "standard":
		return v.Standard
	case "dev":
		return v.Dev
	case "testing":
		return v.Testing
	default:
		panic("unrecognized Release: " + Release)
	}
}
