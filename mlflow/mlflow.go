// Package mlflow is a minimal client for the MLflow file-based tracking
// store. It writes the same on-disk layout the reference tracking
// server reads (mlruns/<experiment>/<run>/{meta.yaml,params,metrics,
// tags,artifacts}), so runs recorded here show up in a stock MLflow UI
// pointed at the same directory.
package mlflow

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/carbocation/pfx"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/genomelab/gtexetl/compileinfo"
)

// Run lifecycle statuses understood by the file store.
const (
	StatusRunning  = "RUNNING"
	StatusFinished = "FINISHED"
	StatusFailed   = "FAILED"
)

type experimentMeta struct {
	ArtifactLocation string `yaml:"artifact_location"`
	ExperimentID     string `yaml:"experiment_id"`
	LifecycleStage   string `yaml:"lifecycle_stage"`
	Name             string `yaml:"name"`
}

type runMeta struct {
	ArtifactURI    string `yaml:"artifact_uri"`
	EndTime        int64  `yaml:"end_time"`
	ExperimentID   string `yaml:"experiment_id"`
	LifecycleStage string `yaml:"lifecycle_stage"`
	RunID          string `yaml:"run_id"`
	RunName        string `yaml:"run_name"`
	RunUUID        string `yaml:"run_uuid"`
	SourceVersion  string `yaml:"source_version"`
	StartTime      int64  `yaml:"start_time"`
	Status         string `yaml:"status"`
	UserID         string `yaml:"user_id"`
}

// Store is a tracking store rooted at a local directory.
type Store struct {
	root string
}

// Open returns a Store for the given tracking URI. Both file:// URIs
// and bare paths are accepted; the root directory is created if absent.
func Open(uri string) (*Store, error) {
	root := strings.TrimPrefix(uri, "file://")
	if root == "" {
		return nil, pfx.Err(fmt.Errorf("empty tracking URI"))
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, pfx.Err(err)
	}

	return &Store{root: root}, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string { return s.root }

// Experiment is a named collection of runs.
type Experiment struct {
	store *Store
	id    string
	path  string
}

// SetExperiment returns the experiment with the given name, creating it
// (with the next free numeric ID) when it does not exist yet.
func (s *Store) SetExperiment(name string) (*Experiment, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, pfx.Err(err)
	}

	maxID := -1
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		if id > maxID {
			maxID = id
		}

		metaPath := filepath.Join(s.root, entry.Name(), "meta.yaml")
		raw, err := os.ReadFile(metaPath)
		if err != nil {
			continue
		}
		var meta experimentMeta
		if err := yaml.Unmarshal(raw, &meta); err != nil {
			continue
		}
		if meta.Name == name && meta.LifecycleStage == "active" {
			return &Experiment{store: s, id: meta.ExperimentID, path: filepath.Join(s.root, entry.Name())}, nil
		}
	}

	id := strconv.Itoa(maxID + 1)
	path := filepath.Join(s.root, id)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, pfx.Err(err)
	}

	meta := experimentMeta{
		ArtifactLocation: "file://" + path,
		ExperimentID:     id,
		LifecycleStage:   "active",
		Name:             name,
	}
	if err := writeYAML(filepath.Join(path, "meta.yaml"), meta); err != nil {
		return nil, err
	}

	return &Experiment{store: s, id: id, path: path}, nil
}

// ID returns the experiment's numeric ID as a string.
func (e *Experiment) ID() string { return e.id }

// Run is one recorded pipeline invocation.
type Run struct {
	experiment *Experiment
	id         string
	path       string
	meta       runMeta
	ended      bool
}

// StartRun creates a new run in the experiment and records its start
// time, name tag, and build provenance.
func (e *Experiment) StartRun(name string) (*Run, error) {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	path := filepath.Join(e.path, id)

	for _, sub := range []string{"params", "metrics", "tags", "artifacts"} {
		if err := os.MkdirAll(filepath.Join(path, sub), 0o755); err != nil {
			return nil, pfx.Err(err)
		}
	}

	user := os.Getenv("USER")
	meta := runMeta{
		ArtifactURI:    "file://" + filepath.Join(path, "artifacts"),
		ExperimentID:   e.id,
		LifecycleStage: "active",
		RunID:          id,
		RunName:        name,
		RunUUID:        id,
		SourceVersion:  compileinfo.Get().SourceVersion(),
		StartTime:      time.Now().UnixMilli(),
		Status:         StatusRunning,
		UserID:         user,
	}

	run := &Run{experiment: e, id: id, path: path, meta: meta}
	if err := writeYAML(filepath.Join(path, "meta.yaml"), meta); err != nil {
		return nil, err
	}
	if err := run.setTag("mlflow.runName", name); err != nil {
		return nil, err
	}

	return run, nil
}

// ID returns the run ID (32 hex characters).
func (r *Run) ID() string { return r.id }

// LogParam records one immutable key-value parameter.
func (r *Run) LogParam(key, value string) error {
	return writeFileAtomic(filepath.Join(r.path, "params", cleanKey(key)), value)
}

// LogMetric records one scalar metric in the file-store line format:
// "<timestamp-ms> <value> <step>".
func (r *Run) LogMetric(key string, value float64) error {
	line := fmt.Sprintf("%d %s 0", time.Now().UnixMilli(), strconv.FormatFloat(value, 'g', -1, 64))
	return writeFileAtomic(filepath.Join(r.path, "metrics", cleanKey(key)), line)
}

// LogArtifact copies the file at src into the run's artifact directory.
func (r *Run) LogArtifact(src string) error {
	in, err := os.Open(src)
	if err != nil {
		return pfx.Err(err)
	}
	defer in.Close()

	dest := filepath.Join(r.path, "artifacts", filepath.Base(src))
	out, err := os.Create(dest)
	if err != nil {
		return pfx.Err(err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dest)
		return pfx.Err(err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dest)
		return pfx.Err(err)
	}
	return nil
}

// ArtifactURI returns the run's artifact location.
func (r *Run) ArtifactURI() string { return r.meta.ArtifactURI }

// End marks the run finished (or failed) and stamps the end time.
// Ending a run twice is a no-op.
func (r *Run) End(status string) error {
	if r.ended {
		return nil
	}
	r.ended = true

	r.meta.EndTime = time.Now().UnixMilli()
	r.meta.Status = status
	return writeYAML(filepath.Join(r.path, "meta.yaml"), r.meta)
}

func (r *Run) setTag(key, value string) error {
	return writeFileAtomic(filepath.Join(r.path, "tags", cleanKey(key)), value)
}

// cleanKey keeps keys usable as file names. Keys come from our own
// code, so this only defends against path separators.
func cleanKey(key string) string {
	return strings.Map(func(c rune) rune {
		if c == '/' || c == '\\' {
			return '-'
		}
		return c
	}, key)
}

func writeYAML(path string, v interface{}) error {
	raw, err := yaml.Marshal(v)
	if err != nil {
		return pfx.Err(err)
	}
	return writeFileAtomic(path, string(raw))
}

func writeFileAtomic(path, content string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return pfx.Err(err)
	}
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return pfx.Err(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return pfx.Err(err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return pfx.Err(err)
	}
	return nil
}

// Runs lists the run IDs recorded in the experiment, sorted for
// deterministic iteration.
func (e *Experiment) Runs() ([]string, error) {
	entries, err := os.ReadDir(e.path)
	if err != nil {
		return nil, pfx.Err(err)
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			ids = append(ids, entry.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}
