package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.lsp.dev/uri"
	"gopkg.in/yaml.v3"
)

// Server mirrors the settings block the bundled analysis server reads from
// its initializationOptions. Field names match the wire format.
type Server struct {
	Cwd               string   `json:"cwd" yaml:"cwd"`
	Workspace         string   `json:"workspace" yaml:"workspace"`
	WorkspaceFS       string   `json:"workspaceFS" yaml:"workspaceFS"`
	Path              []string `json:"path" yaml:"path"`
	Interpreter       []string `json:"interpreter" yaml:"interpreter"`
	Args              []string `json:"args" yaml:"args"`
	ImportStrategy    string   `json:"importStrategy" yaml:"importStrategy"`
	ShowNotifications string   `json:"showNotifications" yaml:"showNotifications"`
}

// File is the on-disk layout of the extension configuration.
type File struct {
	Global  Server            `yaml:"global"`
	Servers map[string]Server `yaml:"servers"`
}

// Store reads extension settings. Reads always go back to disk so that a
// triggering event observes the freshest values; nothing is cached across
// evaluation passes.
type Store struct {
	ConfigPath string
	Workspace  string
}

func NewStore(configPath, workspace string) *Store {
	if workspace == "" {
		workspace = "."
	}
	return &Store{ConfigPath: configPath, Workspace: workspace}
}

// Server returns the settings block for one logical server identifier,
// filled with defaults the analysis server expects.
func (s *Store) Server(id string) (Server, error) {
	file, err := s.load()
	if err != nil {
		return s.defaults(Server{}), err
	}
	return s.defaults(file.Servers[id]), nil
}

// Global returns the fallback settings block.
func (s *Store) Global() (Server, error) {
	file, err := s.load()
	if err != nil {
		return s.defaults(Server{}), err
	}
	return s.defaults(file.Global), nil
}

func (s *Store) load() (File, error) {
	var file File
	if s.ConfigPath == "" {
		return file, nil
	}
	data, err := os.ReadFile(s.ConfigPath)
	if err != nil {
		if os.IsNotExist(err) {
			return file, nil
		}
		return file, fmt.Errorf("read settings: %w", err)
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return File{}, fmt.Errorf("parse settings %s: %w", s.ConfigPath, err)
	}
	return file, nil
}

func (s *Store) defaults(server Server) Server {
	workspace, err := filepath.Abs(s.Workspace)
	if err != nil {
		workspace = s.Workspace
	}
	if server.Cwd == "" {
		server.Cwd = workspace
	}
	if server.WorkspaceFS == "" {
		server.WorkspaceFS = workspace
	}
	if server.Workspace == "" {
		server.Workspace = string(uri.File(workspace))
	}
	if server.ImportStrategy == "" {
		server.ImportStrategy = "useBundled"
	}
	if server.ShowNotifications == "" {
		server.ShowNotifications = "off"
	}
	return server
}

// Event describes one configuration change. Sections lists the top-level
// settings sections whose values differ from the previous snapshot, in the
// form "global" or "servers.<id>".
type Event struct {
	Sections []string
}

// Affects reports whether the change touches the given settings namespace.
// The lifecycle controller uses this as its re-evaluation gate.
func (e Event) Affects(namespace string) bool {
	for _, section := range e.Sections {
		if section == namespace || strings.HasPrefix(section, namespace+".") {
			return true
		}
	}
	return false
}

// ServerNamespace names the settings section owned by one server id.
func ServerNamespace(id string) string {
	return "servers." + id
}

// diff lists the sections whose values changed between two snapshots.
func diff(prev, next File) []string {
	var sections []string
	if !equalServer(prev.Global, next.Global) {
		sections = append(sections, "global")
	}
	ids := make(map[string]struct{}, len(prev.Servers)+len(next.Servers))
	for id := range prev.Servers {
		ids[id] = struct{}{}
	}
	for id := range next.Servers {
		ids[id] = struct{}{}
	}
	for id := range ids {
		if !equalServer(prev.Servers[id], next.Servers[id]) {
			sections = append(sections, ServerNamespace(id))
		}
	}
	sort.Strings(sections)
	return sections
}

func equalServer(a, b Server) bool {
	return a.Cwd == b.Cwd &&
		a.Workspace == b.Workspace &&
		a.WorkspaceFS == b.WorkspaceFS &&
		equalSlice(a.Path, b.Path) &&
		equalSlice(a.Interpreter, b.Interpreter) &&
		equalSlice(a.Args, b.Args) &&
		a.ImportStrategy == b.ImportStrategy &&
		a.ShowNotifications == b.ShowNotifications
}

func equalSlice(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
