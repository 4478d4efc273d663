// Package pull wires C2 (registry client) and C3 (image importer) into the
// single operation the CLI calls for "podder pull": resolve a reference,
// import its layers into the store, and give the resulting chain a
// human-readable name derived from the reference.
package pull

import (
	"context"
	"strings"

	"github.com/LaurentvdBos/podder/internal/pkg/importer"
	"github.com/LaurentvdBos/podder/internal/pkg/registry"
	"github.com/LaurentvdBos/podder/pkg/errkind"
	"github.com/LaurentvdBos/podder/pkg/store"
	"github.com/LaurentvdBos/podder/pkg/sylog"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
)

// Options controls a pull.
type Options struct {
	Platform   registry.Options
	Privileged bool
}

// Image resolves ref, imports every layer it names into s (reusing any
// layer already present under the same content-addressed name), and
// ensures a layer named after ref's repository exists on top of the
// resulting chain. Re-pulling the same reference when nothing has changed
// on the registry is a no-op: the tag layer is left exactly as it is.
func Image(ctx context.Context, s *store.Store, ref string, opts Options) (string, error) {
	img, err := registry.Resolve(ctx, ref, opts.Platform)
	if err != nil {
		return "", err
	}

	leaf, err := importer.ImportImage(ctx, s, img, importer.Options{Privileged: opts.Privileged})
	if err != nil {
		return "", err
	}

	tag, err := tagName(ref)
	if err != nil {
		return "", err
	}

	if s.Exists(tag) {
		existing, err := s.Resolve(tag)
		if err != nil {
			return "", err
		}
		parent, err := existing.Parent()
		if err != nil {
			return "", err
		}
		if parent == leaf {
			sylog.Debugf("%s already points at %s, nothing to do", tag, leaf)
			return tag, nil
		}
		sylog.Infof("%s moved from %s to %s, updating", tag, parent, leaf)
		if err := s.Remove(tag); err != nil {
			return "", err
		}
	}

	cfg, err := imageConfig(img)
	if err != nil {
		return "", err
	}

	if _, err := s.Create(tag, leaf, cfg); err != nil {
		return "", err
	}
	return tag, nil
}

// imageConfig translates img's OCI config into the [container] command,
// env and workdir a launched container inherits by default (spec §4.3 step
// 4). A layer created on top of the tag, or the tag's own config.ini edited
// directly, can still override any of these per the usual per-key
// inheritance rule.
func imageConfig(img v1.Image) (store.Config, error) {
	cf, err := img.ConfigFile()
	if err != nil {
		return nil, errkind.Wrap(errkind.Unknown, "read image config", "", err)
	}

	section := map[string]string{}

	command := append(append([]string{}, cf.Config.Entrypoint...), cf.Config.Cmd...)
	if len(command) > 0 {
		section[store.KeyCommand] = shellJoin(command)
	}

	for _, kv := range cf.Config.Env {
		varName, _, ok := strings.Cut(kv, "=")
		if !ok || varName == "" {
			continue
		}
		section[store.KeyEnvTag+varName] = kv
	}

	if cf.Config.WorkingDir != "" {
		section[store.KeyWorkdir] = cf.Config.WorkingDir
	}

	if len(section) == 0 {
		return store.Config{}, nil
	}
	return store.Config{store.SectionContainer: section}, nil
}

// shellJoin renders command as a single shell-split-able string, quoting
// any token config.ini's shell.Fields reader would otherwise split or
// mis-parse (whitespace, quotes, or shell metacharacters).
func shellJoin(command []string) string {
	quoted := make([]string, len(command))
	for i, tok := range command {
		quoted[i] = shellQuote(tok)
	}
	return strings.Join(quoted, " ")
}

func shellQuote(tok string) string {
	if tok != "" && !strings.ContainsAny(tok, " \t\n'\"\\$`*?[]{}()|&;<>~!#") {
		return tok
	}
	return "'" + strings.ReplaceAll(tok, "'", `'\''`) + "'"
}

// tagName derives the store layer name a reference's tag alias uses: the
// last path segment of its repository (e.g. "library/ubuntu:latest" ->
// "ubuntu").
func tagName(ref string) (string, error) {
	r, err := name.ParseReference(ref)
	if err != nil {
		return "", errkind.Wrap(errkind.ConfigInvalid, "parse reference", ref, err)
	}
	repo := r.Context().RepositoryStr()
	parts := strings.Split(repo, "/")
	return parts[len(parts)-1], nil
}
