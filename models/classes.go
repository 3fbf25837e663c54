// Package models - Class label sets for detector outputs.
package models

import (
	"github.com/pkg/errors"
)

// Family identifies a label set.
type Family string

const (
	// FamilyVOC is the Pascal VOC label set.
	FamilyVOC Family = "voc"
)

// BackgroundName is the name of the reserved class 0.
const BackgroundName = "__background__"

// OutputClass represents one detection label.
type OutputClass struct {
	// The integer index used in class targets and score columns.
	Index int
	// The human-readable label.
	Name string
}

// OutputClassSet ties a family to its full list of labels. Index 0 is
// always the background class.
type OutputClassSet struct {
	Family  Family
	Classes []OutputClass
	// nameToIdx for fast lookup by name
	nameToIdx map[string]int
}

// NewOutputClassSet builds a set from foreground names, placing the
// background class at index 0 and numbering the names from 1.
func NewOutputClassSet(family Family, names ...string) *OutputClassSet {
	set := &OutputClassSet{
		Family:  family,
		Classes: make([]OutputClass, 0, len(names)+1),
	}
	set.Classes = append(set.Classes, OutputClass{Index: 0, Name: BackgroundName})
	for i, name := range names {
		set.Classes = append(set.Classes, OutputClass{Index: i + 1, Name: name})
	}
	set.buildNameIndexMap()
	return set
}

func (s *OutputClassSet) buildNameIndexMap() {
	s.nameToIdx = make(map[string]int, len(s.Classes))
	for _, c := range s.Classes {
		s.nameToIdx[c.Name] = c.Index
	}
}

// Len returns the number of classes including background, i.e. the number of
// score columns a detector emits per anchor.
func (s *OutputClassSet) Len() int {
	return len(s.Classes)
}

// Name returns the class name for idx.
func (s *OutputClassSet) Name(idx int) (string, error) {
	if idx < 0 || idx >= len(s.Classes) {
		return "", errors.Errorf("index %d out of range for %q", idx, s.Family)
	}
	return s.Classes[idx].Name, nil
}

// Index returns the class index for name.
func (s *OutputClassSet) Index(name string) (int, error) {
	idx, ok := s.nameToIdx[name]
	if !ok {
		return -1, errors.Errorf("name %q not found in %q", name, s.Family)
	}
	return idx, nil
}

// VOCClasses is the 20 Pascal VOC classes plus "__background__" at index 0.
var VOCClasses = NewOutputClassSet(FamilyVOC,
	"aeroplane",
	"bicycle",
	"bird",
	"boat",
	"bottle",
	"bus",
	"car",
	"cat",
	"chair",
	"cow",
	"diningtable",
	"dog",
	"horse",
	"motorbike",
	"person",
	"pottedplant",
	"sheep",
	"sofa",
	"train",
	"tvmonitor",
)

// Lookup returns the registered class set of a family.
func Lookup(family Family) (*OutputClassSet, error) {
	switch family {
	case FamilyVOC:
		return VOCClasses, nil
	default:
		return nil, errors.Errorf("class family %q not registered", family)
	}
}
