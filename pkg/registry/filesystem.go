package registry

import (
	"os"
	"path/filepath"
)

type filesystemManagement interface {
	writeSensorsFile(filepath string, data []byte) error
}

type fileManagement struct{}

func (fs *fileManagement) writeSensorsFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
