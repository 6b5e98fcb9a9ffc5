package secret

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/joho/godotenv"
)

// DotenvFile is the name of the file whose variables augment the process environment.
const DotenvFile = ".env"

var (
	dotenvMu sync.RWMutex
	dotenv   = map[string]string{}
)

// LoadDotenv reads dir/.env, if present, and makes its variables visible to
// ${{env.NAME}} references. Variables set in the process environment take
// precedence. A missing file is not an error.
func LoadDotenv(dir string) error {
	vars, err := godotenv.Read(filepath.Join(dir, DotenvFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read dotenv in %s: %w", dir, err)
	}

	dotenvMu.Lock()
	defer dotenvMu.Unlock()
	for k, v := range vars {
		dotenv[k] = v
	}
	return nil
}

// ResetDotenv forgets every variable loaded by LoadDotenv.
func ResetDotenv() {
	dotenvMu.Lock()
	defer dotenvMu.Unlock()
	dotenv = map[string]string{}
}

// LookupEnv resolves name from the process environment, then from the dotenv file.
func LookupEnv(name string) (string, bool) {
	if v, ok := os.LookupEnv(name); ok {
		return v, true
	}
	dotenvMu.RLock()
	defer dotenvMu.RUnlock()
	v, ok := dotenv[name]
	return v, ok
}
