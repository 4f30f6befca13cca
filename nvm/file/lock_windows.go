package file

import "os"

func lock(f *os.File) error {
	return nil
}

func unlock(f *os.File) error {
	return nil
}

func sync(f *os.File) error {
	return f.Sync()
}
