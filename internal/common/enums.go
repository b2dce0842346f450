package common

import (
	"encoding/json"
	"fmt"
)

// CustomJsonConversionError is thrown when parsing strings into enumerations
type CustomJsonConversionError struct {
	reason string
}

// Error returns the error as a string
func (err *CustomJsonConversionError) Error() string {
	return err.reason
}

// CustomTypeError is thrown when parsing strings into enumerations
type CustomTypeError struct {
	reason string
}

// Error returns the error as a string
func (err *CustomTypeError) Error() string {
	return err.reason
}

// The enumerations used on the wire (session states, step names, filesystem
// kinds, ...) are integers wrapped in type aliases so that an unknown string
// cannot silently unmarshal into a valid value. These helpers convert between
// the wire string and the integer through an explicit mapping; each enum type
// defines its mapping next to its constants.

// UnmarshalEnum parses a JSON string and converts it through mapping. The two
// error strings are appended to the offending value to form the message.
func UnmarshalEnum(data []byte, jsonError, typeConversionError string, mapping map[string]int) (int, error) {
	var stringInput string
	err := json.Unmarshal(data, &stringInput)
	if err != nil {
		return 0, &CustomJsonConversionError{string(data) + jsonError}
	}
	value, exists := mapping[stringInput]
	if !exists {
		return 0, &CustomJsonConversionError{stringInput + typeConversionError}
	}
	return value, nil
}

// MarshalEnum is the inverse of UnmarshalEnum.
func MarshalEnum(input int, mapping map[string]int, errorMessage string) ([]byte, error) {
	for k, v := range mapping {
		if v == input {
			return json.Marshal(k)
		}
	}
	return nil, &CustomJsonConversionError{fmt.Sprintf("%d %s", input, errorMessage)}
}

// EnumList returns all wire strings of a mapping.
func EnumList(mapping map[string]int) []string {
	ret := make([]string, 0)
	for k := range mapping {
		ret = append(ret, k)
	}
	return ret
}

// EnumExists tells whether a wire string is part of a mapping.
func EnumExists(mapping map[string]int, testedValue string) bool {
	for k := range mapping {
		if k == testedValue {
			return true
		}
	}
	return false
}

// EnumToString converts a tag back to its wire string.
func EnumToString(mapping map[string]int, tag int) (string, bool) {
	for k, v := range mapping {
		if v == tag {
			return k, true
		}
	}
	return "", false
}

// EnumFromString converts a wire string to its tag.
func EnumFromString(mapping map[string]int, stringInput string) (int, bool) {
	value, exists := mapping[stringInput]
	return value, exists
}
