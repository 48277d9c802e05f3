// Copyright 2026 The AIEIO Authors.
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


package config

import (
	"flag"
	"fmt"
	"reflect"
	"strconv"

	"aieio.dev/aieio/pkg/aie"
)

// RegisterFlags registers flags used to populate Config.
func RegisterFlags(flagSet *flag.FlagSet) {
	// Device selection.
	flagSet.String("device", "", "TOML device description merged over the generation defaults.")
	flagSet.Var(backendPtr(aie.BackendBaremetal), "backend", "IO backend: baremetal, linux, metal, cdo, socket, sim, debug.")
	flagSet.Var(generationPtr(aie.GenAIE), "generation", "array generation: aie, aieml.")
	flagSet.Uint("start-col", 0, "absolute first column of the partition.")
	flagSet.Uint("num-cols", 0, "number of partition columns, 0 keeps the device default.")
	flagSet.Uint("partition-id", 0, "partition requested from the kernel (linux backend).")

	// Backend specific flags.
	flagSet.String("mem-path", "", "physical memory device mapped by the baremetal backend, empty maps anonymous memory.")
	flagSet.String("dev", "", "AI engine character device (linux backend).")
	flagSet.String("cdo-output", "", "file the cdo backend writes its command stream to.")
	flagSet.String("sim-port-file", "", "file the simulator publishes its TCP port in.")
	flagSet.Duration("connect-timeout", 0, "how long the socket backend retries connecting, 0 tries once.")

	// Debugging flags.
	flagSet.String("log", "", "file path where internal error logs are written, default is none.")
	flagSet.String("log-format", "text", "log format: text (default) or json.")
	flagSet.Bool("debug", false, "enable debug logging.")
}

func backendPtr(v aie.BackendType) *aie.BackendType {
	return &v
}

func generationPtr(v aie.Generation) *aie.Generation {
	return &v
}

// NewFromFlags creates a new Config with values coming from command line flags.
func NewFromFlags(flagSet *flag.FlagSet) (*Config, error) {
	conf := &Config{set: make(map[string]bool)}

	obj := reflect.ValueOf(conf).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		name, ok := f.Tag.Lookup("flag")
		if !ok {
			// No flag set for this field.
			continue
		}
		fl := flagSet.Lookup(name)
		if fl == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		x := reflect.ValueOf(fl.Value.(flag.Getter).Get())
		obj.Field(i).Set(x)
	}
	flagSet.Visit(func(fl *flag.Flag) {
		conf.set[fl.Name] = true
	})

	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// ToFlags returns a slice of flags that correspond to the given Config.
func (c *Config) ToFlags() []string {
	var rv []string

	// Construct a temporary set for default plumbing.
	flagSet := flag.NewFlagSet("tmp", flag.ContinueOnError)
	RegisterFlags(flagSet)

	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		name, ok := f.Tag.Lookup("flag")
		if !ok {
			// No flag set for this field.
			continue
		}
		val := getVal(obj.Field(i))

		fl := flagSet.Lookup(name)
		if fl == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		if val == fl.DefValue {
			continue
		}
		rv = append(rv, fmt.Sprintf("--%s=%s", fl.Name, val))
	}
	return rv
}

func getVal(field reflect.Value) string {
	if str, ok := field.Addr().Interface().(fmt.Stringer); ok {
		return str.String()
	}
	switch field.Kind() {
	case reflect.Bool:
		return strconv.FormatBool(field.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(field.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(field.Uint(), 10)
	case reflect.String:
		return field.String()
	default:
		panic("unknown type " + field.Kind().String())
	}
}
