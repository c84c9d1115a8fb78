// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package config parses INI-style settings files and byte data for the
// orchestrator and network-client configuration structs.
package config

import (
	"bytes"
	"fmt"

	"gopkg.in/ini.v1"
)

// OptionsMapToINIData generates config []byte data from settings.
func OptionsMapToINIData(options map[string]string) []byte {
	var buffer bytes.Buffer
	for key, value := range options {
		buffer.WriteString(fmt.Sprintf("%s=%s\n", key, value))
	}
	return buffer.Bytes()
}

// Options returns a collection of all key-value options in the provided
// config file path or []byte data.
func Options(cfgPathOrData interface{}) (map[string]string, error) {
	cfgFile, err := ini.Load(cfgPathOrData)
	if err != nil {
		return nil, err
	}
	return options(cfgFile), nil
}

func options(cfgFile *ini.File) map[string]string {
	opts := make(map[string]string)
	for _, section := range cfgFile.Sections() {
		for _, key := range section.Keys() {
			opts[key.Name()] = key.String()
		}
	}
	return opts
}

// Parse parses config options from the provided config file path or []byte
// data into the specified struct object. If the config has section headers,
// the options are first flattened into a map so that section placement never
// affects which struct fields are set.
func Parse(cfgPathOrData, obj interface{}) error {
	cfgFile, err := ini.Load(cfgPathOrData)
	if err != nil {
		return err
	}

	cfgSections := cfgFile.Sections()
	if len(cfgSections) > 1 || cfgSections[0].Name() != ini.DefaultSection {
		cfgOptions := options(cfgFile)
		return Parse(OptionsMapToINIData(cfgOptions), obj)
	}

	return cfgFile.MapTo(obj)
}
