package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Volume ownership labels. Every volume boxci creates carries the full set;
// prune only ever touches volumes where LabelManaged is "true".
const (
	LabelManaged    = "boxci.managed"
	LabelNamespace  = "boxci.namespace"
	LabelEnvID      = "boxci.env_id"
	LabelVolumeKind = "boxci.volume_kind"
)

// VolumeInfo is the metadata boxci reads back from a volume inspection.
type VolumeInfo struct {
	// CreatedAt is nil when the engine did not report a creation time.
	CreatedAt *time.Time
	Labels    map[string]string
}

// Managed reports whether the volume carries the boxci ownership label.
func (v *VolumeInfo) Managed() bool {
	return v.Labels[LabelManaged] == "true"
}

// VolumeExists reports whether a named volume exists.
func (e *Engine) VolumeExists(ctx context.Context, name string) (bool, error) {
	res, err := e.RunCaptureAllowFailure(ctx, Invocation{
		Args:    []string{"volume", "exists", name},
		Timeout: 15 * time.Second,
	})
	if err != nil {
		return false, err
	}
	return res.ExitCode == 0, nil
}

// CreateVolume creates a named volume with the given labels. Labels are
// emitted in sorted key order so the command line is deterministic.
func (e *Engine) CreateVolume(ctx context.Context, name string, labels map[string]string) error {
	args := []string{"volume", "create"}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "--label", k+"="+labels[k])
	}
	args = append(args, name)

	_, err := e.RunCapture(ctx, Invocation{Args: args, Timeout: 30 * time.Second})
	return err
}

// InspectVolume returns creation time and labels for a volume.
func (e *Engine) InspectVolume(ctx context.Context, name string) (*VolumeInfo, error) {
	res, err := e.RunCapture(ctx, Invocation{
		Args:    []string{"volume", "inspect", name, "--format", "json"},
		Timeout: 30 * time.Second,
	})
	if err != nil {
		return nil, err
	}

	var rows []struct {
		CreatedAt string            `json:"CreatedAt"`
		Labels    map[string]string `json:"Labels"`
	}
	if err := json.Unmarshal(res.Stdout, &rows); err != nil {
		return nil, fmt.Errorf("parse volume inspect json: %w", err)
	}
	if len(rows) == 0 {
		return &VolumeInfo{Labels: map[string]string{}}, nil
	}

	info := &VolumeInfo{Labels: rows[0].Labels}
	if info.Labels == nil {
		info.Labels = map[string]string{}
	}
	if rows[0].CreatedAt != "" {
		created, err := parseVolumeTime(rows[0].CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("parse volume CreatedAt: %w", err)
		}
		info.CreatedAt = &created
	}
	return info, nil
}

// ListVolumesByLabel returns the names of volumes matching a label filter.
func (e *Engine) ListVolumesByLabel(ctx context.Context, key, value string) ([]string, error) {
	res, err := e.RunCapture(ctx, Invocation{
		Args:    []string{"volume", "ls", "--filter", "label=" + key + "=" + value, "--format", "json"},
		Timeout: 30 * time.Second,
	})
	if err != nil {
		return nil, err
	}
	return parseVolumeNames(res.Stdout)
}

// ListVolumes returns the names of all volumes known to the engine.
func (e *Engine) ListVolumes(ctx context.Context) ([]string, error) {
	res, err := e.RunCapture(ctx, Invocation{
		Args:    []string{"volume", "ls", "--format", "json"},
		Timeout: 30 * time.Second,
	})
	if err != nil {
		return nil, err
	}
	return parseVolumeNames(res.Stdout)
}

// RemoveVolume deletes a volume, optionally forcing removal.
func (e *Engine) RemoveVolume(ctx context.Context, name string, force bool) error {
	args := []string{"volume", "rm"}
	if force {
		args = append(args, "-f")
	}
	args = append(args, name)
	_, err := e.RunCapture(ctx, Invocation{Args: args, Timeout: 60 * time.Second})
	return err
}

func parseVolumeNames(out []byte) ([]string, error) {
	var rows []struct {
		Name string `json:"Name"`
	}
	if err := json.Unmarshal(out, &rows); err != nil {
		return nil, fmt.Errorf("parse volume ls json: %w", err)
	}
	names := make([]string, 0, len(rows))
	for _, r := range rows {
		names = append(names, r.Name)
	}
	return names, nil
}

// parseVolumeTime handles the timestamp layouts different Podman versions
// emit: RFC3339(Nano) and a bare local-time form without a zone suffix.
func parseVolumeTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.999999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
