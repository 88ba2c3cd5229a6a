// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package config provides configuration loading and management for caltrace.
// It handles loading configuration from YAML files, provides default values and
// converts the settings into the parameters of the processing packages.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mlnoga/caltrace/internal/frame"
	"github.com/mlnoga/caltrace/internal/reg"
	"github.com/mlnoga/caltrace/internal/roi"
	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("invalid configuration")

// Motion correction settings
type Registration struct {
	// Method is one of pw_ecc, ecc or none
	Method string `yaml:"method" json:"method"`

	// MedianBlur is the odd window size of an optional median blur before registration, 0 to disable
	MedianBlur int `yaml:"median_blur" json:"medianBlur"`

	// PCsToRemove lists principal components wiped from each frame before registration
	PCsToRemove []int `yaml:"pcs2rm,flow,omitempty" json:"pcs2rm,omitempty"`

	// FilterSize is the guided filter radius of the prefilter
	FilterSize int `yaml:"filter_size" json:"filterSize"`

	// KernelSize is the size of the elliptic structuring element for background estimation
	KernelSize int `yaml:"kernel_size" json:"kernelSize"`

	// MorphNumIter is the number of erosions and dilations of the background opening
	MorphNumIter int `yaml:"morph_num_iter" json:"morphNumIter"`

	// MotionType is translation or euclidean
	MotionType string `yaml:"ecc_motion_type" json:"eccMotionType"`

	// NumIter caps the ECC iterations per tile
	NumIter int `yaml:"ecc_num_iter" json:"eccNumIter"`

	// TerminationEps stops ECC once the correlation changes less than this
	TerminationEps float64 `yaml:"ecc_termination_eps" json:"eccTerminationEps"`

	NRowTiles  int    `yaml:"pw_ecc_nrow_tiles" json:"pwEccNRowTiles"`
	NColTiles  int    `yaml:"pw_ecc_ncol_tiles" json:"pwEccNColTiles"`
	BorderSize int    `yaml:"pw_ecc_border_size" json:"pwEccBorderSize"`
	BorderType string `yaml:"pw_ecc_border_type" json:"pwEccBorderType"` // REFLECT, REFLECT_101 or WRAP
	BorderMode string `yaml:"pw_ecc_border_mode" json:"pwEccBorderMode"` // REPLICATE or CONSTANT

	// Reference is previous or first
	Reference string `yaml:"reference" json:"reference"`
}

// Frame-wise ROI detection settings
type Detection struct {
	CircularityMin   float64 `yaml:"roi_circularity_min" json:"roiCircularityMin"`
	CircularityMax   float64 `yaml:"roi_circularity_max" json:"roiCircularityMax"`
	AreaMin          float64 `yaml:"roi_area_min" json:"roiAreaMin"`
	AreaMax          float64 `yaml:"roi_area_max" json:"roiAreaMax"`
	ThreshDrop       int     `yaml:"roi_thresh_drop" json:"roiThreshDrop"`
	MaxZeroROIFrames int     `yaml:"max_zero_roi_frames" json:"maxZeroRoiFrames"`
}

// Movie-wise ROI pickup settings
type Pickup struct {
	// Weighted selects the weighted picker instead of the non-overlapping one
	Weighted               bool    `yaml:"weighted" json:"weighted"`
	SNRDiscardThreshold    float64 `yaml:"roi_snr_discard_threshold" json:"roiSnrDiscardThreshold"`
	MaxOverlap             int     `yaml:"roi_max_overlap" json:"roiMaxOverlap"`
	JaccardThreshold       float64 `yaml:"wroi_jaccard_threshold" json:"wroiJaccardThreshold"`
	InterCentroidThreshold float64 `yaml:"wroi_inter_centroid_threshold" json:"wroiInterCentroidThreshold"`
}

// Config represents the application configuration loaded from YAML
type Config struct {
	// MaxThreads limits tile-level parallelism, 0 for the number of physical cores
	MaxThreads   int          `yaml:"max_threads" json:"maxThreads"`
	Registration Registration `yaml:"registration" json:"registration"`
	Detection    Detection    `yaml:"detection" json:"detection"`
	Pickup       Pickup       `yaml:"pickup" json:"pickup"`
}

// Default returns a configuration with default values
func Default() *Config {
	p := reg.DefaultParams()
	d := roi.DefaultDetectorParams()
	k := roi.DefaultPickerParams()
	return &Config{
		Registration: Registration{
			Method:         reg.MethodPieceWise,
			FilterSize:     p.FilterSize,
			KernelSize:     p.KernelSize,
			MorphNumIter:   p.MorphNumIter,
			MotionType:     p.Motion.String(),
			NumIter:        p.MaxIter,
			TerminationEps: p.Eps,
			NRowTiles:      p.NRows,
			NColTiles:      p.NCols,
			BorderSize:     p.Border,
			BorderType:     p.BorderType.String(),
			BorderMode:     p.WarpBorder.String(),
			Reference:      p.Reference.String(),
		},
		Detection: Detection{
			CircularityMin:   d.CircMin,
			CircularityMax:   d.CircMax,
			AreaMin:          d.AreaMin,
			AreaMax:          d.AreaMax,
			ThreshDrop:       d.ThreshDrop,
			MaxZeroROIFrames: d.MaxZeroROIFrames,
		},
		Pickup: Pickup{
			Weighted:               false,
			SNRDiscardThreshold:    k.SNRThreshold,
			MaxOverlap:             k.MaxOverlap,
			JaccardThreshold:       k.JaccardThreshold,
			InterCentroidThreshold: k.CentroidDistThreshold,
		},
	}
}

// Load loads configuration from a YAML file, on top of the defaults.
// If the file doesn't exist, it returns the default configuration
func Load(configPath string) (*Config, error) {
	cfg := Default()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves the configuration to a YAML file
func Save(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	return nil
}

func invalid(field string, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalid, field, fmt.Sprintf(format, args...))
}

// Validate checks all settings, and names the first offending field
func (c *Config) Validate() error {
	if c.MaxThreads < 0 {
		return invalid("max_threads", "%d is negative", c.MaxThreads)
	}
	r := &c.Registration
	switch r.Method {
	case reg.MethodPieceWise, reg.MethodFrame, reg.MethodNone:
	default:
		return invalid("registration.method", "unknown method '%s'", r.Method)
	}
	if r.MedianBlur < 0 || (r.MedianBlur > 0 && r.MedianBlur%2 == 0) {
		return invalid("registration.median_blur", "%d must be zero or odd", r.MedianBlur)
	}
	for _, pc := range r.PCsToRemove {
		if pc < 0 {
			return invalid("registration.pcs2rm", "negative component %d", pc)
		}
	}
	if _, err := c.RegistrationParams(); err != nil {
		return err
	}

	d := &c.Detection
	if d.CircularityMin < 0 || d.CircularityMax <= d.CircularityMin {
		return invalid("detection.roi_circularity_min", "range [%g,%g] is empty", d.CircularityMin, d.CircularityMax)
	}
	if d.AreaMin < 0 || d.AreaMax <= d.AreaMin {
		return invalid("detection.roi_area_min", "range [%g,%g] is empty", d.AreaMin, d.AreaMax)
	}
	if d.ThreshDrop < 1 || d.ThreshDrop > 127 {
		return invalid("detection.roi_thresh_drop", "%d not in [1,127]", d.ThreshDrop)
	}
	if d.MaxZeroROIFrames < 1 {
		return invalid("detection.max_zero_roi_frames", "%d must be positive", d.MaxZeroROIFrames)
	}

	k := &c.Pickup
	if k.MaxOverlap < 0 {
		return invalid("pickup.roi_max_overlap", "%d is negative", k.MaxOverlap)
	}
	if k.JaccardThreshold < 0 || k.JaccardThreshold > 1 {
		return invalid("pickup.wroi_jaccard_threshold", "%g not in [0,1]", k.JaccardThreshold)
	}
	if k.InterCentroidThreshold < 0 {
		return invalid("pickup.wroi_inter_centroid_threshold", "%g is negative", k.InterCentroidThreshold)
	}
	return nil
}

// Converts the registration settings into parameters of the reg package
func (c *Config) RegistrationParams() (reg.Params, error) {
	r := &c.Registration
	p := reg.Params{
		FilterSize:   r.FilterSize,
		KernelSize:   r.KernelSize,
		MorphNumIter: r.MorphNumIter,
		MaxIter:      r.NumIter,
		Eps:          r.TerminationEps,
		NRows:        r.NRowTiles,
		NCols:        r.NColTiles,
		Border:       r.BorderSize,
	}
	var err error
	if p.Motion, err = reg.ParseMotionType(r.MotionType); err != nil {
		return p, invalid("registration.ecc_motion_type", "%v", err)
	}
	if p.BorderType, err = frame.ParseBorderType(r.BorderType); err != nil {
		return p, invalid("registration.pw_ecc_border_type", "%v", err)
	}
	switch p.BorderType {
	case frame.BorderReflect, frame.BorderReflect101, frame.BorderWrap:
	default:
		return p, invalid("registration.pw_ecc_border_type", "%s is not one of REFLECT, REFLECT_101, WRAP", p.BorderType)
	}
	if p.WarpBorder, err = frame.ParseBorderType(r.BorderMode); err != nil {
		return p, invalid("registration.pw_ecc_border_mode", "%v", err)
	}
	if p.Reference, err = reg.ParseReference(r.Reference); err != nil {
		return p, invalid("registration.reference", "%v", err)
	}
	if err := p.Validate(); err != nil {
		return p, invalid("registration", "%v", err)
	}
	return p, nil
}

// Converts the detection settings into parameters of the roi package
func (c *Config) DetectorParams() roi.DetectorParams {
	d := &c.Detection
	return roi.DetectorParams{
		CircMin:          d.CircularityMin,
		CircMax:          d.CircularityMax,
		AreaMin:          d.AreaMin,
		AreaMax:          d.AreaMax,
		ThreshDrop:       d.ThreshDrop,
		MaxZeroROIFrames: d.MaxZeroROIFrames,
	}
}

// Converts the pickup settings into parameters of the roi package
func (c *Config) PickerParams() roi.PickerParams {
	k := &c.Pickup
	return roi.PickerParams{
		SNRThreshold:          k.SNRDiscardThreshold,
		MaxOverlap:            k.MaxOverlap,
		JaccardThreshold:      k.JaccardThreshold,
		CentroidDistThreshold: k.InterCentroidThreshold,
	}
}
