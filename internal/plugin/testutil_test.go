package plugin

import "os"

func writeEmptyFile(path string) error {
	return os.WriteFile(path, nil, 0o644)
}
