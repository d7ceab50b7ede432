package mapper

import (
	"fmt"
	"regexp"
	"strings"
)

// Marker renders the bind marker for the n-th (1-based) parameter.
type Marker func(n int) string

// QuestionMarker renders "?" for every parameter.
func QuestionMarker(int) string { return "?" }

// DollarMarker renders "$1", "$2", ...
func DollarMarker(n int) string { return fmt.Sprintf("$%d", n) }

// Param is one bound parameter reference.
type Param struct {
	// Path is a dotted field path into the statement parameter. "value"
	// addresses a scalar parameter itself.
	Path []string

	// Handler optionally names the type handler used to convert the value.
	Handler string
}

// Compiled is a statement ready for the driver.
type Compiled struct {
	SQL    string
	Params []Param
}

var paramPattern = regexp.MustCompile(`#\{([A-Za-z_][A-Za-z0-9_.]*)(?::([^}\s]+))?\}`)

// Compile replaces #{path} and #{path:handler} references with bind
// markers.
func Compile(sql string, marker Marker) (*Compiled, error) {
	var params []Param
	var bad string
	out := paramPattern.ReplaceAllStringFunc(sql, func(m string) string {
		groups := paramPattern.FindStringSubmatch(m)
		path := strings.Split(groups[1], ".")
		for _, seg := range path {
			if seg == "" {
				bad = groups[1]
			}
		}
		params = append(params, Param{Path: path, Handler: groups[2]})
		return marker(len(params))
	})
	if bad != "" {
		return nil, fmt.Errorf("invalid parameter path %q", bad)
	}
	if i := strings.Index(out, "#{"); i >= 0 {
		return nil, fmt.Errorf("malformed parameter reference near %q", out[i:min(len(out), i+20)])
	}
	return &Compiled{SQL: out, Params: params}, nil
}
