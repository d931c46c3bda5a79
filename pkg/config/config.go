// Copyright 2017 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package config loads strict JSON configs. Lines starting with # are
// comments. Files with .yaml or .yml extension are converted to JSON first.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"

	"github.com/greyfuzz/greyfuzz/pkg/osutil"
	"sigs.k8s.io/yaml"
)

func LoadFile(filename string, cfg interface{}) error {
	data, err := ReadFile(filename)
	if err != nil {
		return err
	}
	return LoadData(data, cfg)
}

// ReadFile returns the contents of a config file as JSON.
func ReadFile(filename string) ([]byte, error) {
	if filename == "" {
		return nil, fmt.Errorf("no config file specified")
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if isYAML(filename) {
		if data, err = yaml.YAMLToJSON(data); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	return data, nil
}

var commentRe = regexp.MustCompile(`(^|\n)\s*#[^\n]*`)

func LoadData(data []byte, cfg interface{}) error {
	if v := reflect.ValueOf(cfg); v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("config type is not pointer to struct")
	}
	data = commentRe.ReplaceAll(data, nil)
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// SaveFile writes cfg as indented JSON, or as YAML for .yaml/.yml files.
func SaveFile(filename string, cfg interface{}) error {
	data, err := json.MarshalIndent(cfg, "", "\t")
	if err != nil {
		return err
	}
	if isYAML(filename) {
		if data, err = yaml.JSONToYAML(data); err != nil {
			return err
		}
	}
	return osutil.WriteFile(filename, data)
}

func isYAML(filename string) bool {
	ext := filepath.Ext(filename)
	return ext == ".yaml" || ext == ".yml"
}

// MergeJSONData overrides fields of left with the fields of right.
// Nested objects are merged recursively, anything else is replaced.
// Comment lines are dropped.
func MergeJSONData(left, right []byte) ([]byte, error) {
	left, right = commentRe.ReplaceAll(left, nil), commentRe.ReplaceAll(right, nil)
	vLeft := map[string]interface{}{}
	if err := json.Unmarshal(left, &vLeft); err != nil {
		return nil, fmt.Errorf("failed to unmarshal left: %w", err)
	}
	vRight := map[string]interface{}{}
	if len(right) != 0 {
		if err := json.Unmarshal(right, &vRight); err != nil {
			return nil, fmt.Errorf("failed to unmarshal right: %w", err)
		}
	}
	return json.Marshal(mergeRecursive(vLeft, vRight))
}

func mergeRecursive(left, right interface{}) interface{} {
	mLeft, okLeft := left.(map[string]interface{})
	mRight, okRight := right.(map[string]interface{})
	if !okLeft || !okRight {
		return right
	}
	for k, v := range mRight {
		if old, ok := mLeft[k]; ok {
			v = mergeRecursive(old, v)
		}
		mLeft[k] = v
	}
	return mLeft
}
