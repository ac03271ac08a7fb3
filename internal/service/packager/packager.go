package packager

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/oshokin/agent-updater/internal/domain/artifact"
	"github.com/oshokin/agent-updater/internal/logger"
	"github.com/oshokin/agent-updater/internal/repository/manifest"
	"github.com/oshokin/agent-updater/internal/service/install"
)

const (
	// ManifestFilename is the manifest written next to the archives.
	ManifestFilename = "artifacts.json"

	// publishedFileMode keeps the output readable by the web server.
	publishedFileMode os.FileMode = 0o644
)

// Options are inputs accepted by the packager entry point.
type Options struct {
	// PlanPath is the YAML plan to execute.
	PlanPath string
	// Output overrides the plan's output directory when set.
	Output string
}

// Run loads the plan, packages every artifact and writes the manifest.
func Run(ctx context.Context, opts *Options) (artifact.Manifest, error) {
	ctx = logger.WithName(ctx, "agent-packager")

	planPath := opts.PlanPath
	if planPath == "" {
		planPath = DefaultPlanFilename
	}

	plan, err := LoadPlan(planPath)
	if err != nil {
		return nil, err
	}

	if opts.Output != "" {
		plan.Output = opts.Output
	}

	result, err := Package(ctx, plan)
	if err != nil {
		return nil, fmt.Errorf("packager failed: %w", err)
	}

	printNextSteps(ctx, plan.Output, result)

	return result, nil
}

// Package builds archives for every plan entry and writes artifacts.json.
func Package(ctx context.Context, plan *Plan) (artifact.Manifest, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(plan.Output, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	result := make(artifact.Manifest, len(plan.Artifacts))

	for _, name := range slices.Sorted(maps.Keys(plan.Artifacts)) {
		entry, err := packageOne(logger.WithKV(ctx, "artifact", name), plan.Output, name, plan.Artifacts[name])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}

		result[name] = entry
	}

	data, err := manifest.Encode(result)
	if err != nil {
		return nil, err
	}

	manifestPath := filepath.Join(plan.Output, ManifestFilename)
	if err = install.ReplaceFile(manifestPath, bytes.NewReader(data), publishedFileMode); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}

	logger.InfoKV(ctx, "Manifest written", "path", manifestPath, "artifacts", len(result))

	return result, nil
}

// packageOne compresses a single payload and returns its manifest entry.
func packageOne(ctx context.Context, output, name string, entry *Entry) (*artifact.Artifact, error) {
	if _, err := artifact.ParseVersion(entry.Version); err != nil {
		return nil, err
	}

	codec, err := install.ParseCodec(entry.Codec)
	if err != nil {
		return nil, err
	}

	filename := name + "-" + entry.Version + codec.Extension()
	archivePath := filepath.Join(output, filename)

	if err = compressFile(entry.Source, archivePath, codec); err != nil {
		return nil, err
	}

	digest, err := install.FileChecksum(archivePath)
	if err != nil {
		return nil, err
	}

	result := &artifact.Artifact{
		Filename:    filename,
		SHA512:      digest,
		Version:     entry.Version,
		Destination: entry.Destination,
		Service:     entry.Service,
		Lockfile:    entry.Lockfile,
	}

	if err = result.Validate(); err != nil {
		return nil, err
	}

	if info, statErr := os.Stat(archivePath); statErr == nil {
		logger.InfoKV(ctx, "Artifact packaged",
			"archive", filename, "codec", codec.String(), "size", humanize.IBytes(uint64(info.Size())))
	}

	return result, nil
}

// compressFile streams source through the codec into target.
func compressFile(source, target string, codec install.Codec) error {
	input, err := os.Open(filepath.Clean(source))
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}

	defer func() {
		_ = input.Close()
	}()

	output, err := os.OpenFile(filepath.Clean(target), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, publishedFileMode)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}

	defer func() {
		_ = output.Close()
	}()

	writer, err := install.NewWriter(codec, output)
	if err != nil {
		return err
	}

	if _, err = io.Copy(writer, input); err != nil {
		return fmt.Errorf("compress: %w", err)
	}

	if err = writer.Close(); err != nil {
		return fmt.Errorf("compress: %w", err)
	}

	return output.Close()
}

// printNextSteps logs the files to upload to the store.
func printNextSteps(ctx context.Context, output string, result artifact.Manifest) {
	var builder strings.Builder

	builder.WriteString("Upload the following files from ")
	builder.WriteString(output)
	builder.WriteString(" to the store:")

	for _, name := range result.Names() {
		builder.WriteString("\n")
		builder.WriteString(result[name].Filename)
	}

	builder.WriteString("\n")
	builder.WriteString(ManifestFilename)

	logger.Info(ctx, builder.String())
}
