package helper

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ReadYAMLFile decode the first yaml document of file into data
func ReadYAMLFile(name string, data interface{}) error {
	f, err := os.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(data); err != nil {
		return errors.Wrapf(err, "fail to decode %s", name)
	}
	return nil
}
