package protocol

import (
	"fmt"

	"github.com/pts-server/pts-server-pro/internal/models"
)

// Shape validators are pure predicates over the decoded request
// payload: presence plus primitive type of every required field,
// nothing more. Numbers arrive as float64 from the JSON decoder.

func requireString(data models.Variables, field string) error {
	v, ok := data[field]
	if !ok {
		return fmt.Errorf("%s is required", field)
	}
	s, ok := v.(string)
	if !ok {
		return fmt.Errorf("%s must be a string", field)
	}
	if s == "" {
		return fmt.Errorf("%s must not be empty", field)
	}
	return nil
}

func requireNumber(data models.Variables, field string) error {
	v, ok := data[field]
	if !ok {
		return fmt.Errorf("%s is required", field)
	}
	if _, ok := v.(float64); !ok {
		return fmt.Errorf("%s must be a number", field)
	}
	return nil
}

func requireObject(data models.Variables, field string) error {
	v, ok := data[field]
	if !ok {
		return fmt.Errorf("%s is required", field)
	}
	if _, ok := v.(map[string]interface{}); !ok {
		return fmt.Errorf("%s must be an object", field)
	}
	return nil
}

func requireFields(data models.Variables, checks ...func(models.Variables) error) error {
	if data == nil {
		return fmt.Errorf("data is required")
	}
	for _, check := range checks {
		if err := check(data); err != nil {
			return err
		}
	}
	return nil
}

func str(field string) func(models.Variables) error {
	return func(d models.Variables) error { return requireString(d, field) }
}

func num(field string) func(models.Variables) error {
	return func(d models.Variables) error { return requireNumber(d, field) }
}

func obj(field string) func(models.Variables) error {
	return func(d models.Variables) error { return requireObject(d, field) }
}

func validatePumpTransaction(data models.Variables) error {
	return requireFields(data, str("pumpId"), str("nozzleId"), str("fuelType"), num("volume"), num("amount"))
}

func validateTankMeasurement(data models.Variables) error {
	return requireFields(data, str("tankId"), str("fuelType"), num("level"), num("volume"))
}

func validateInTankDelivery(data models.Variables) error {
	return requireFields(data, str("tankId"), str("fuelType"), num("deliveredVolume"))
}

func validateGpsRecord(data models.Variables) error {
	return requireFields(data, num("latitude"), num("longitude"))
}

func validateAlertRecord(data models.Variables) error {
	return requireFields(data, str("alertType"), str("severity"), str("message"))
}

func validateStatus(data models.Variables) error {
	return requireFields(data, str("systemStatus"))
}

func validateConfiguration(data models.Variables) error {
	return requireFields(data, str("configVersion"), obj("configData"))
}

func validateTagBalanceRequest(data models.Variables) error {
	return requireFields(data, str("tagId"))
}
