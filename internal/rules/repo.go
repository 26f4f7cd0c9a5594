package rules

import (
	"archive/zip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const (
	repoRulepacksDir = "rulepacks"
	repoConfigFile   = "config.json"
	rulePackFileName = "rulepack.json"
)

// Repository manages installation and discovery of rule packs.
type Repository struct {
	root string
}

// RulePackRef identifies a rule pack by id and version.
type RulePackRef struct {
	RulePackId string `json:"rulePackId"`
	Version    string `json:"version"`
}

// String renders the reference as id@version.
func (r RulePackRef) String() string { return r.RulePackId + "@" + r.Version }

// ParseRulePackRef parses id@version. A missing version means the latest
// installed one.
func ParseRulePackRef(s string) (RulePackRef, error) {
	id, version, _ := strings.Cut(s, "@")
	if err := validatePathComponent(id); err != nil {
		return RulePackRef{}, fmt.Errorf("invalid rule pack id: %w", err)
	}
	return RulePackRef{RulePackId: id, Version: version}, nil
}

// InstalledRulePack represents a rule pack stored in the repository.
type InstalledRulePack struct {
	RulePack RulePack
	Dir      string
	Path     string
}

type repoConfig struct {
	DefaultByProfile map[string]RulePackRef `json:"defaultByProfile"`
}

// DefaultRepository returns the repository rooted in ~/.vrtgate/rules.
func DefaultRepository() (*Repository, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return OpenRepository(filepath.Join(home, ".vrtgate", "rules"))
}

// OpenRepository creates a Repository rooted at path and ensures the required
// subdirectories exist.
func OpenRepository(path string) (*Repository, error) {
	if err := os.MkdirAll(filepath.Join(path, repoRulepacksDir), 0o755); err != nil {
		return nil, fmt.Errorf("create rulepacks dir: %w", err)
	}
	return &Repository{root: path}, nil
}

func (r *Repository) Root() string {
	if r == nil {
		return ""
	}
	return r.root
}

// Install stores a rule pack given either as a plain JSON file or as a zip
// archive holding rulepack.json.
func (r *Repository) Install(path string) (InstalledRulePack, error) {
	var installed InstalledRulePack
	if r == nil {
		return installed, errors.New("nil repository")
	}
	var data []byte
	var err error
	if strings.HasSuffix(path, ".zip") {
		data, err = readRulePackArchive(path)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return installed, err
	}
	var rp RulePack
	if err := json.Unmarshal(data, &rp); err != nil {
		return installed, fmt.Errorf("parse rule pack: %w", err)
	}
	if rp.RulePackId == "" || rp.Version == "" {
		return installed, errors.New("rule pack missing id or version")
	}
	if err := validatePathComponent(rp.RulePackId); err != nil {
		return installed, fmt.Errorf("invalid rule pack id: %w", err)
	}
	if err := validatePathComponent(rp.Version); err != nil {
		return installed, fmt.Errorf("invalid rule pack version: %w", err)
	}
	if err := rp.Validate(); err != nil {
		return installed, fmt.Errorf("rule pack %s: %w", rp.RulePackId, err)
	}
	dir := r.packageDir(rp.RulePackId, rp.Version)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return installed, fmt.Errorf("create package dir: %w", err)
	}
	dst := filepath.Join(dir, rulePackFileName)
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return installed, fmt.Errorf("write %s: %w", rulePackFileName, err)
	}
	return InstalledRulePack{RulePack: rp, Dir: dir, Path: dst}, nil
}

func readRulePackArchive(path string) ([]byte, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer zr.Close()
	for _, f := range zr.File {
		if filepath.Base(f.Name) != rulePackFileName {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", rulePackFileName, err)
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, errors.New("rulepack.json not found in archive")
}

// ListInstalled returns the installed rule packs ordered by id, then version.
func (r *Repository) ListInstalled() ([]InstalledRulePack, error) {
	if r == nil {
		return nil, errors.New("nil repository")
	}
	base := filepath.Join(r.root, repoRulepacksDir)
	entries, err := os.ReadDir(base)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var result []InstalledRulePack
	for _, idEntry := range entries {
		if !idEntry.IsDir() {
			continue
		}
		versionDir := filepath.Join(base, idEntry.Name())
		versEntries, err := os.ReadDir(versionDir)
		if err != nil {
			return nil, err
		}
		for _, vEntry := range versEntries {
			if !vEntry.IsDir() {
				continue
			}
			rpPath := filepath.Join(versionDir, vEntry.Name(), rulePackFileName)
			rp, err := LoadRulePack(rpPath)
			if err != nil {
				continue
			}
			result = append(result, InstalledRulePack{
				RulePack: rp,
				Dir:      filepath.Dir(rpPath),
				Path:     rpPath,
			})
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].RulePack.RulePackId == result[j].RulePack.RulePackId {
			return compareVersions(result[i].RulePack.Version, result[j].RulePack.Version) < 0
		}
		return result[i].RulePack.RulePackId < result[j].RulePack.RulePackId
	})
	return result, nil
}

// Load returns the rule pack named by ref, resolving an empty version to the
// latest installed one.
func (r *Repository) Load(ref RulePackRef) (RulePack, error) {
	var rp RulePack
	if r == nil {
		return rp, errors.New("nil repository")
	}
	if ref.Version == "" {
		v, err := r.latestVersionFor(ref.RulePackId)
		if err != nil {
			return rp, err
		}
		if v == "" {
			return rp, fmt.Errorf("rule pack %s not installed", ref.RulePackId)
		}
		ref.Version = v
	}
	if err := validatePathComponent(ref.Version); err != nil {
		return rp, fmt.Errorf("invalid rule pack version: %w", err)
	}
	rp, err := LoadRulePack(filepath.Join(r.packageDir(ref.RulePackId, ref.Version), rulePackFileName))
	if err != nil {
		return rp, err
	}
	if rp.RulePackId != ref.RulePackId || rp.Version != ref.Version {
		return rp, errors.New("rule pack metadata does not match requested id/version")
	}
	return rp, nil
}

// Remove deletes an installed rule pack and any profile default naming it.
func (r *Repository) Remove(ref RulePackRef) error {
	if r == nil {
		return errors.New("nil repository")
	}
	if err := validatePathComponent(ref.RulePackId); err != nil {
		return fmt.Errorf("invalid rule pack id: %w", err)
	}
	if err := validatePathComponent(ref.Version); err != nil {
		return fmt.Errorf("invalid rule pack version: %w", err)
	}
	dir := r.packageDir(ref.RulePackId, ref.Version)
	if _, err := os.Stat(dir); err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	cfg, err := r.loadConfig()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	changed := false
	for profile, def := range cfg.DefaultByProfile {
		if def == ref {
			delete(cfg.DefaultByProfile, profile)
			changed = true
		}
	}
	if changed {
		return r.saveConfig(cfg)
	}
	return nil
}

// DefaultForProfile returns the configured default rule pack for profile.
func (r *Repository) DefaultForProfile(profile string) (RulePackRef, bool, error) {
	cfg, err := r.loadConfig()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return RulePackRef{}, false, nil
		}
		return RulePackRef{}, false, err
	}
	ref, ok := cfg.DefaultByProfile[profile]
	return ref, ok, nil
}

// SetDefaultForProfile updates the default rule pack for profile.
func (r *Repository) SetDefaultForProfile(profile string, ref RulePackRef) error {
	if r == nil {
		return errors.New("nil repository")
	}
	if err := validatePathComponent(ref.RulePackId); err != nil {
		return fmt.Errorf("invalid rule pack id: %w", err)
	}
	if err := validatePathComponent(ref.Version); err != nil {
		return fmt.Errorf("invalid rule pack version: %w", err)
	}
	cfg, err := r.loadConfig()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if cfg.DefaultByProfile == nil {
		cfg.DefaultByProfile = make(map[string]RulePackRef)
	}
	cfg.DefaultByProfile[profile] = ref
	return r.saveConfig(cfg)
}

// Defaults returns a copy of the configured default mappings.
func (r *Repository) Defaults() (map[string]RulePackRef, error) {
	cfg, err := r.loadConfig()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]RulePackRef{}, nil
		}
		return nil, err
	}
	out := make(map[string]RulePackRef, len(cfg.DefaultByProfile))
	for k, v := range cfg.DefaultByProfile {
		out[k] = v
	}
	return out, nil
}

// RulePackRequest says where a rule pack should come from. Path wins over
// Ref; with neither, the repository default for Profile is used, then the
// built-in pack.
type RulePackRequest struct {
	Path    string
	Ref     string
	Profile string
	Repo    *Repository
}

// RulePackSource records where ResolveRulePack found the pack.
type RulePackSource struct {
	Path           string
	FromRepository bool
	Builtin        bool
	Ref            RulePackRef
}

func ResolveRulePack(req RulePackRequest) (RulePack, RulePackSource, error) {
	if req.Path != "" {
		rp, err := LoadRulePack(req.Path)
		return rp, RulePackSource{Path: req.Path}, err
	}
	if req.Ref != "" {
		if req.Repo == nil {
			return RulePack{}, RulePackSource{}, errors.New("rule pack reference needs a repository")
		}
		ref, err := ParseRulePackRef(req.Ref)
		if err != nil {
			return RulePack{}, RulePackSource{}, err
		}
		rp, err := req.Repo.Load(ref)
		ref.Version = rp.Version
		return rp, RulePackSource{FromRepository: true, Ref: ref}, err
	}
	if req.Repo != nil && req.Profile != "" {
		ref, ok, err := req.Repo.DefaultForProfile(req.Profile)
		if err != nil {
			return RulePack{}, RulePackSource{}, err
		}
		if ok {
			rp, err := req.Repo.Load(ref)
			return rp, RulePackSource{FromRepository: true, Ref: ref}, err
		}
	}
	return DefaultRulePack(), RulePackSource{Builtin: true}, nil
}

func (r *Repository) latestVersionFor(id string) (string, error) {
	if err := validatePathComponent(id); err != nil {
		return "", fmt.Errorf("invalid rule pack id: %w", err)
	}
	entries, err := os.ReadDir(filepath.Join(r.root, repoRulepacksDir, id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	best := ""
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if best == "" || compareVersions(e.Name(), best) > 0 {
			best = e.Name()
		}
	}
	return best, nil
}

func (r *Repository) packageDir(id, version string) string {
	return filepath.Join(r.root, repoRulepacksDir, id, version)
}

func (r *Repository) loadConfig() (repoConfig, error) {
	var cfg repoConfig
	if r == nil {
		return cfg, errors.New("nil repository")
	}
	data, err := os.ReadFile(filepath.Join(r.root, repoConfigFile))
	if err != nil {
		return cfg, err
	}
	err = json.Unmarshal(data, &cfg)
	return cfg, err
}

func (r *Repository) saveConfig(cfg repoConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(r.root, repoConfigFile), data, 0o644)
}

func validatePathComponent(s string) error {
	if s == "" {
		return errors.New("empty string")
	}
	if strings.Contains(s, string(os.PathSeparator)) || strings.Contains(s, "/") {
		return errors.New("contains path separator")
	}
	if s == "." || s == ".." {
		return errors.New("invalid component")
	}
	if strings.Contains(s, "..") && filepath.Clean(s) != s {
		return errors.New("invalid path component")
	}
	return nil
}

// compareVersions orders dotted numeric versions; non-numeric versions fall
// back to string order.
func compareVersions(a, b string) int {
	if a == b {
		return 0
	}
	ap := parseVersionParts(a)
	bp := parseVersionParts(b)
	n := max(len(ap), len(bp))
	for i := 0; i < n; i++ {
		var ai, bi int
		if i < len(ap) {
			ai = ap[i]
		}
		if i < len(bp) {
			bi = bp[i]
		}
		if ai != bi {
			if ai > bi {
				return 1
			}
			return -1
		}
	}
	return strings.Compare(a, b)
}

func parseVersionParts(s string) []int {
	parts := strings.Split(s, ".")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			out = append(out, 0)
			continue
		}
		v, err := strconv.Atoi(p)
		if err != nil {
			return []int{0}
		}
		out = append(out, v)
	}
	return out
}
