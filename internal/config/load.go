// Copyright 2024 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"reflect"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gitlab.com/accumulatenetwork/partstore/pkg/errors"
	"gopkg.in/yaml.v3"
)

func (c *Config) FilePath() string { return c.file }

func (c *Config) LoadFrom(file string) error {
	return c.LoadFromFS(os.DirFS("."), file)
}

func (c *Config) LoadFromFS(fs fs.FS, file string) error {
	format, err := unmarshallerFor(file)
	if err != nil {
		return err
	}

	f, err := fs.Open(file)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	b, err := io.ReadAll(f)
	if err != nil {
		return err
	}

	c.file = file
	c.fs = fs
	return c.Load(b, format)
}

func unmarshallerFor(file string) (func([]byte, any) error, error) {
	switch s := path.Ext(file); s {
	case ".toml", ".tml", ".ini":
		return toml.Unmarshal, nil
	case ".yaml", ".yml":
		return yaml.Unmarshal, nil
	case ".json":
		return json.Unmarshal, nil
	default:
		return nil, errors.BadRequest.WithFormat("unknown file type %s", s)
	}
}

func (c *Config) Load(b []byte, format func([]byte, any) error) error {
	var v any
	err := format(b, &v)
	if err != nil {
		return err
	}

	v = remap(v, kebab2camel, nil)
	b, err = json.Marshal(v)
	if err != nil {
		return err
	}

	err = json.Unmarshal(b, c)
	if err != nil {
		return err
	}

	return c.applyDotEnv()
}

func (c *Config) applyDotEnv() error {
	if c.DotEnv == nil || !*c.DotEnv {
		return nil
	}

	file := ".env"
	if c.file != "" {
		file = path.Join(path.Dir(c.file), file)
	}

	var expand func(name string) string
	var errs []error

	fsys := c.fs
	if fsys == nil {
		fsys = os.DirFS(".")
	}

	f, err := fsys.Open(file)
	switch {
	case err == nil:
		defer func() { _ = f.Close() }()

		// Parse
		env, err := godotenv.Parse(f)
		if err != nil {
			return err
		}

		// And expand
		expand = func(name string) string {
			value, ok := env[name]
			if ok {
				return value
			}
			errs = append(errs, fmt.Errorf("%q is not defined", name))
			return fmt.Sprintf("#!MISSING(%q)", name)
		}

	case errors.Is(err, fs.ErrNotExist):
		// Only return an error if there is at least one ${ENV}
		expand = func(name string) string {
			if len(errs) == 0 {
				errs = append(errs, err)
			}
			return fmt.Sprintf("#!MISSING(%q)", name)
		}

	default:
		return err
	}

	expandEnv(reflect.ValueOf(c), expand)
	return errors.Join(errs...)
}

// Marshal encodes the configuration with kebab-case keys in the format
// implied by the extension: .toml, .yaml, or .json.
func (c *Config) Marshal(ext string) ([]byte, error) {
	var format func(any) ([]byte, error)
	switch ext {
	case ".toml", ".tml", ".ini":
		format = marshalTOML
	case ".yaml", ".yml":
		format = yaml.Marshal
	case ".json":
		format = func(v any) ([]byte, error) { return json.MarshalIndent(v, "", "  ") }
	default:
		return nil, errors.BadRequest.WithFormat("unknown file type %s", ext)
	}

	b, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}

	var v any
	err = json.Unmarshal(b, &v)
	if err != nil {
		return nil, err
	}

	v = remap(v, camel2kebab, float2int)
	return format(v)
}

func marshalTOML(a any) ([]byte, error) {
	b := new(bytes.Buffer)
	e := toml.NewEncoder(b)
	err := e.Encode(a)
	return b.Bytes(), err
}

func remap(v any, mapKey func(string) string, mapValue func(reflect.Value) any) any {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice:
		u := make([]any, rv.Len())
		for i := range u {
			u[i] = remap(rv.Index(i).Interface(), mapKey, mapValue)
		}
		return u

	case reflect.Map:
		u := make(map[string]any, rv.Len())
		for it := rv.MapRange(); it.Next(); {
			u[mapKey(it.Key().String())] = remap(it.Value().Interface(), mapKey, mapValue)
		}
		return u

	default:
		if mapValue != nil {
			return mapValue(rv)
		}
		return v
	}
}

var reKebab = regexp.MustCompile(`-[a-z]`)
var reCamel = regexp.MustCompile(`[a-z][A-Z]+`)

func kebab2camel(s string) string {
	return reKebab.ReplaceAllStringFunc(s, func(s string) string {
		return strings.ToUpper(s[1:])
	})
}

func camel2kebab(s string) string {
	return strings.ToLower(reCamel.ReplaceAllStringFunc(s, func(s string) string {
		return s[:1] + "-" + s[1:]
	}))
}

func float2int(v reflect.Value) any {
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		// If the float has no fractional part, convert it to an int
		v := v.Float()
		if v == float64(int64(v)) {
			return int64(v)
		}
		return v
	default:
		return v.Interface()
	}
}

func expandEnv(v reflect.Value, expand func(string) string) {
	switch v.Kind() {
	case reflect.String:
		if !v.CanSet() {
			return
		}
		s := v.String()
		s = os.Expand(s, expand)
		v.SetString(s)

	case reflect.Pointer, reflect.Interface:
		expandEnv(v.Elem(), expand)

	case reflect.Slice, reflect.Array:
		for i, n := 0, v.Len(); i < n; i++ {
			expandEnv(v.Index(i), expand)
		}

	case reflect.Struct:
		typ := v.Type()
		for i, n := 0, typ.NumField(); i < n; i++ {
			if typ.Field(i).IsExported() {
				expandEnv(v.Field(i), expand)
			}
		}
	}
}
