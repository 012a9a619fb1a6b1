package tatty

import "context"

// Run executes one agent turn in the current directory with default
// options, creating and closing a throwaway client.
func Run(ctx context.Context, query string) (*Reply, error) {
	c, err := New(Options{})
	if err != nil {
		return nil, err
	}
	defer c.Close()
	return c.Run(ctx, query)
}

// Ask answers a one-off question with no tools.
func Ask(ctx context.Context, question string) (string, error) {
	c, err := New(Options{})
	if err != nil {
		return "", err
	}
	defer c.Close()
	return c.Ask(ctx, question)
}

// InitProject scaffolds the standard workspace layout in dir.
func InitProject(ctx context.Context, dir string) error {
	c, err := New(Options{WorkingDir: dir})
	if err != nil {
		return err
	}
	defer c.Close()
	return c.InitProject(ctx)
}
