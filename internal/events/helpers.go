package events

import (
	"encoding/json"
	"fmt"
)

// SetData replaces the Data field with the JSON form of data.
func (e *Event) SetData(data interface{}) error {
	switch d := data.(type) {
	case nil:
		e.Data = make(map[string]interface{})
		return nil
	case map[string]interface{}:
		e.Data = d
		return nil
	}
	dataMap, err := structToMap(data)
	if err != nil {
		return fmt.Errorf("failed to convert %T: %w", data, err)
	}
	e.Data = dataMap
	return nil
}

// DecodeData unmarshals the Data field into target.
func (e *Event) DecodeData(target interface{}) error {
	if err := mapToStruct(e.Data, target); err != nil {
		return fmt.Errorf("failed to parse %s data: %w", e.Type, err)
	}
	return nil
}

// GetFileChangedData retrieves FileChangedData from the Data field.
func (e *Event) GetFileChangedData() (*FileChangedData, error) {
	var data FileChangedData
	if err := e.DecodeData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetAnalysisCompleteData retrieves AnalysisCompleteData from the Data field.
func (e *Event) GetAnalysisCompleteData() (*AnalysisCompleteData, error) {
	var data AnalysisCompleteData
	if err := e.DecodeData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetNotificationData retrieves NotificationData from the Data field.
func (e *Event) GetNotificationData() (*NotificationData, error) {
	var data NotificationData
	if err := e.DecodeData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetFixAppliedData retrieves FixAppliedData from the Data field.
func (e *Event) GetFixAppliedData() (*FixAppliedData, error) {
	var data FixAppliedData
	if err := e.DecodeData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetCommitData retrieves CommitData from the Data field.
func (e *Event) GetCommitData() (*CommitData, error) {
	var data CommitData
	if err := e.DecodeData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// structToMap converts a struct to a map[string]interface{} using JSON marshaling.
func structToMap(data interface{}) (map[string]interface{}, error) {
	bytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var result map[string]interface{}
	if err := json.Unmarshal(bytes, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// mapToStruct converts a map[string]interface{} to a struct using JSON unmarshaling.
func mapToStruct(dataMap map[string]interface{}, target interface{}) error {
	bytes, err := json.Marshal(dataMap)
	if err != nil {
		return err
	}
	return json.Unmarshal(bytes, target)
}
