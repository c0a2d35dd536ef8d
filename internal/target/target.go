package target

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Target represents a managed vCenter endpoint discovered for this run
type Target struct {
	Name     string // FQDN of the vCenter endpoint
	Realm    string // Identifier of the security realm (workload domain) the target belongs to
	Grouping string // Display name of the owning workload domain, when discovered
	Primary  bool   // True when the target belongs to the management (primary) realm
	Health   string // Health status reported for the owning domain, when discovered
	Username string // Optional per-target username override (direct mode)
	Version  string // Version reported by the endpoint, filled after connecting
	Original string // Original endpoint specification string
}

// Parser defines the interface for parsing and validating endpoint specifications
type Parser interface {
	// ParseEndpoints parses comma-separated endpoint specifications
	ParseEndpoints(input string) ([]Target, error)

	// ParseEndpointFile reads endpoint specifications from a file (one per line)
	ParseEndpointFile(filename string) ([]Target, error)

	// ValidateTarget validates a target for correctness
	ValidateTarget(target Target) error
}

// DefaultParser implements the Parser interface
type DefaultParser struct{}

// NewParser creates a new DefaultParser instance
func NewParser() Parser {
	return &DefaultParser{}
}

// ParseEndpointSpec parses a single endpoint specification in the format
// "fqdn" or "user@fqdn"
func ParseEndpointSpec(spec string) (Target, error) {
	target := Target{
		Original: spec,
	}

	spec = strings.TrimSpace(spec)
	if spec == "" {
		return target, fmt.Errorf("empty endpoint specification")
	}

	if strings.Contains(spec, "@") {
		// In "administrator@vsphere.local@vc01.example.com" only the last
		// separator splits the account from the endpoint.
		at := strings.LastIndex(spec, "@")
		target.Username = spec[:at]
		target.Name = spec[at+1:]
	} else {
		target.Name = spec
	}

	if err := ValidateTarget(target); err != nil {
		return target, fmt.Errorf("validation failed: %w", err)
	}

	return target, nil
}

// ValidateTarget validates a target for correctness
func ValidateTarget(target Target) error {
	if target.Name == "" {
		return fmt.Errorf("endpoint name cannot be empty")
	}

	if strings.ContainsAny(target.Name, " \t/") {
		return fmt.Errorf("endpoint name '%s' is not a valid FQDN", target.Name)
	}

	// The endpoint must be a bare FQDN; scheme or port are supplied by the client.
	if strings.Contains(target.Name, "://") || strings.Contains(target.Name, ":") {
		return fmt.Errorf("endpoint name '%s' must be a bare FQDN without scheme or port", target.Name)
	}

	return nil
}

// ParseEndpoints parses comma-separated endpoint specifications
func (p *DefaultParser) ParseEndpoints(input string) ([]Target, error) {
	if strings.TrimSpace(input) == "" {
		return nil, fmt.Errorf("empty endpoint input")
	}

	specs := strings.Split(input, ",")
	targets := make([]Target, 0, len(specs))

	for i, spec := range specs {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue // Skip empty entries
		}

		target, err := ParseEndpointSpec(spec)
		if err != nil {
			return nil, fmt.Errorf("error parsing endpoint %d ('%s'): %w", i+1, spec, err)
		}

		targets = append(targets, target)
	}

	if len(targets) == 0 {
		return nil, fmt.Errorf("no valid endpoints found in input")
	}

	return targets, nil
}

// ParseEndpointFile reads endpoint specifications from a file (one per line)
func (p *DefaultParser) ParseEndpointFile(filename string) ([]Target, error) {
	if filename == "" {
		return nil, fmt.Errorf("filename cannot be empty")
	}

	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open endpoint file '%s': %w", filename, err)
	}
	defer file.Close()

	return p.parseFromReader(file)
}

// parseFromReader reads endpoint specifications from any io.Reader (one per line)
func (p *DefaultParser) parseFromReader(reader io.Reader) ([]Target, error) {
	scanner := bufio.NewScanner(reader)
	targets := make([]Target, 0)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		target, err := ParseEndpointSpec(line)
		if err != nil {
			return nil, fmt.Errorf("error parsing line %d ('%s'): %w", lineNum, line, err)
		}

		targets = append(targets, target)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading input: %w", err)
	}

	if len(targets) == 0 {
		return nil, fmt.Errorf("no valid endpoints found in input")
	}

	return targets, nil
}

// ValidateTarget validates a target for correctness
func (p *DefaultParser) ValidateTarget(target Target) error {
	return ValidateTarget(target)
}
