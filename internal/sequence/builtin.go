package sequence

import (
	"embed"
	"fmt"
	"os"
	"strings"
)

//go:embed builtin/*.yaml
var builtinFS embed.FS

// BuiltinPlaybookFile is the playbook used when no file is configured.
const BuiltinPlaybookFile = "builtin/quotation-followup.yaml"

// LoadBuiltinPlaybook returns the quotation follow-up playbook bundled with the service.
func LoadBuiltinPlaybook() (*Playbook, error) {
	data, err := builtinFS.ReadFile(BuiltinPlaybookFile)
	if err != nil {
		return nil, fmt.Errorf("read builtin playbook: %w", err)
	}
	pb, err := ParsePlaybook(data)
	if err != nil {
		return nil, fmt.Errorf("parse builtin playbook: %w", err)
	}
	pb.Source = "builtin"
	return pb, nil
}

// LoadPlaybook reads a playbook from disk, falling back to the builtin one
// when path is empty.
func LoadPlaybook(path string) (*Playbook, error) {
	if strings.TrimSpace(path) == "" {
		return LoadBuiltinPlaybook()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read playbook %s: %w", path, err)
	}

	pb, err := ParsePlaybook(data)
	if err != nil {
		return nil, fmt.Errorf("parse playbook %s: %w", path, err)
	}
	pb.Source = path
	return pb, nil
}
