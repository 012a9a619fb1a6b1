package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/tatty/internal/artifacts"
)

// ArtifactsTool manages the standard output folders and, when an S3
// bucket is configured, mirrors them.
type ArtifactsTool struct {
	manager *artifacts.Manager
	s3cfg   artifacts.S3Config
}

func NewArtifactsTool(manager *artifacts.Manager, s3cfg artifacts.S3Config) *ArtifactsTool {
	return &ArtifactsTool{manager: manager, s3cfg: s3cfg}
}

func (t *ArtifactsTool) Name() string { return "artifacts" }

func (t *ArtifactsTool) Description() string {
	desc := "Manage the artifact folders (" + strings.Join(t.manager.Folders(), ", ") + "). Actions: init, list, clean"
	if t.s3cfg.Bucket != "" {
		desc += ", push (upload to S3), pull (download from S3)"
	}
	return desc + "."
}

func (t *ArtifactsTool) Parameters() map[string]interface{} {
	actions := []string{"init", "list", "clean"}
	if t.s3cfg.Bucket != "" {
		actions = append(actions, "push", "pull")
	}
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{
				"type":        "string",
				"enum":        actions,
				"description": "Artifact operation.",
			},
		},
		"required": []string{"action"},
	}
}

func (t *ArtifactsTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	action, _ := args["action"].(string)
	switch action {
	case "init":
		if err := t.manager.Init(); err != nil {
			return ErrorResult(err.Error())
		}
		return SilentResult("Artifact folders ready: " + strings.Join(t.manager.Folders(), ", "))

	case "list":
		entries, err := t.manager.Manifest()
		if err != nil {
			return ErrorResult(err.Error())
		}
		return SilentResult(artifacts.FormatManifest(entries))

	case "clean":
		removed, err := t.manager.Clean()
		if err != nil {
			return ErrorResult(err.Error())
		}
		return SilentResult(fmt.Sprintf("Removed %d temp file(s).", removed))

	case "push", "pull":
		if t.s3cfg.Bucket == "" {
			return ErrorResult("no S3 bucket configured for artifacts")
		}
		sync, err := artifacts.NewS3Sync(ctx, t.s3cfg)
		if err != nil {
			return ErrorResult(err.Error())
		}
		if action == "push" {
			n, err := sync.Push(ctx, t.manager)
			if err != nil {
				return ErrorResult(fmt.Sprintf("pushed %d file(s), then failed: %v", n, err))
			}
			return SilentResult(fmt.Sprintf("Pushed %d file(s) to s3://%s/%s", n, t.s3cfg.Bucket, t.s3cfg.Prefix))
		}
		n, err := sync.Pull(ctx, t.manager)
		if err != nil {
			return ErrorResult(fmt.Sprintf("pulled %d file(s), then failed: %v", n, err))
		}
		return SilentResult(fmt.Sprintf("Pulled %d file(s) from s3://%s/%s", n, t.s3cfg.Bucket, t.s3cfg.Prefix))

	default:
		return ErrorResult("unknown action: " + action)
	}
}
