package config

import (
	"bytes"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/callflow/callflow/pkg/errors"
)

// LoadExperiment reads an experiment file. Keys the file omits take their
// value from base; the result is validated.
func LoadExperiment(path string, base ExperimentConfig) (ExperimentConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ExperimentConfig{}, errors.NotFound("experiment file", path)
		}
		return ExperimentConfig{}, errors.Wrap(err, errors.CodeInvalidConfig, "failed to open experiment file")
	}
	defer f.Close()

	exp, err := DecodeExperiment(f, base)
	if err != nil {
		if cfErr, ok := err.(*errors.CallFlowError); ok {
			return ExperimentConfig{}, cfErr.WithContext("path", path)
		}
		return ExperimentConfig{}, err
	}
	return exp, nil
}

// DecodeExperiment decodes one YAML experiment document over base. Unknown
// keys are rejected so a typo does not silently run the defaults.
func DecodeExperiment(r io.Reader, base ExperimentConfig) (ExperimentConfig, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return ExperimentConfig{}, errors.Wrap(err, errors.CodeInvalidConfig, "failed to read experiment")
	}

	exp := base
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&exp); err != nil {
			return ExperimentConfig{}, errors.Wrap(err, errors.CodeInvalidConfig, "failed to parse experiment")
		}
	}

	if err := exp.Validate(); err != nil {
		return ExperimentConfig{}, err
	}
	if err := exp.ValidateReplications(); err != nil {
		return ExperimentConfig{}, err
	}
	return exp, nil
}

// ValidateReplications rejects replication counts below one.
func (e ExperimentConfig) ValidateReplications() error {
	if e.Replications < 1 {
		return errors.InvalidReplications(e.Replications)
	}
	return nil
}
