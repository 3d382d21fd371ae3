/*
 * Copyright 2025 Olake By Datazip
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package types

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/mitchellh/hashstructure"
)

// Set keeps insertion order and deduplicates by structural hash, so values
// like composite primary keys ([]any) can be members.
type Set[T any] struct {
	hash    map[uint64]int
	storage []T
}

func NewSet[T any](values ...T) *Set[T] {
	set := &Set[T]{
		hash:    make(map[uint64]int),
		storage: []T{},
	}
	set.Insert(values...)
	return set
}

func (s *Set[T]) key(value T) uint64 {
	hash, err := hashstructure.Hash(value, nil)
	if err != nil {
		// fall back to the printed form for values hashstructure rejects
		hash, _ = hashstructure.Hash(fmt.Sprintf("%v", value), nil)
	}
	return hash
}

func (s *Set[T]) Insert(values ...T) {
	for _, value := range values {
		k := s.key(value)
		if _, found := s.hash[k]; found {
			continue
		}
		s.hash[k] = len(s.storage)
		s.storage = append(s.storage, value)
	}
}

func (s *Set[T]) Exists(value T) bool {
	_, found := s.hash[s.key(value)]
	return found
}

func (s *Set[T]) Remove(value T) {
	k := s.key(value)
	idx, found := s.hash[k]
	if !found {
		return
	}
	s.storage = append(s.storage[:idx], s.storage[idx+1:]...)
	delete(s.hash, k)
	for key, pos := range s.hash {
		if pos > idx {
			s.hash[key] = pos - 1
		}
	}
}

func (s *Set[T]) Len() int {
	return len(s.storage)
}

// Array returns the members in insertion order.
func (s *Set[T]) Array() []T {
	out := make([]T, len(s.storage))
	copy(out, s.storage)
	return out
}

func (s *Set[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.storage)
}

func (s *Set[T]) UnmarshalJSON(data []byte) error {
	var values []T
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	*s = *NewSet(values...)
	return nil
}
