// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package badger

// Repositories bundles every repository built on one backend.
type Repositories struct {
	Backend   *Backend
	Documents *DocumentRepository
	Jobs      *JobRepository
	Vectors   *VectorRepository
	Cache     *VectorCache
}

// Close releases the job sequence and closes the backend.
func (r *Repositories) Close() error {
	if err := r.Jobs.Close(); err != nil {
		r.Backend.Close()
		return err
	}
	return r.Backend.Close()
}

// OpenRepositories opens a backend and builds every repository on it.
// Caller must Close the result when done.
func OpenRepositories(filePath string, inMemory bool) (*Repositories, error) {
	backend, err := OpenBackend(filePath, inMemory)
	if err != nil {
		return nil, err
	}

	jobs, err := NewJobRepository(backend)
	if err != nil {
		backend.Close()
		return nil, err
	}

	return &Repositories{
		Backend:   backend,
		Documents: NewDocumentRepository(backend),
		Jobs:      jobs,
		Vectors:   NewVectorRepository(backend),
		Cache:     NewVectorCache(backend),
	}, nil
}

// NewMemoryRepositories creates in-memory repositories for testing.
func NewMemoryRepositories() (*Repositories, error) {
	return OpenRepositories("", true)
}
