package command

import (
	"context"
	"fmt"
)

// ImageLauncher starts an asynchronous image job.
type ImageLauncher interface {
	Launch(ctx context.Context, description string) (string, error)
}

// ImageStarted is the Data of a successful /image result. The gateway
// router watches the task and posts the picture when it is ready.
type ImageStarted struct {
	TaskID      string `json:"task_id"`
	Description string `json:"description"`
}

// RegisterImageCommand registers /image.
func RegisterImageCommand(reg *Registry, images ImageLauncher) {
	reg.Register(&Command{
		Name:        "image",
		Description: "Generate an image",
		Usage:       "/image <description>",
		Handler: func(ctx context.Context, args string, _ *Context) (*Result, error) {
			if args == "" {
				return &Result{Content: "Usage: /image <description>"}, nil
			}
			id, err := images.Launch(ctx, args)
			if err != nil {
				return &Result{Content: fmt.Sprintf("Failed: %v", err)}, nil
			}
			return &Result{
				Content: fmt.Sprintf("Working on it (task %s)...", id),
				Data:    ImageStarted{TaskID: id, Description: args},
			}, nil
		},
	})
}
