package models

// Domain records uploaded by PTS controllers. Handlers unmarshal the
// validated wire payload into one of these before it is handed to the
// event sink; the sink adds controller identity and server timestamp.

// PumpTransaction is a completed fueling transaction.
type PumpTransaction struct {
	PumpID        string  `json:"pumpId"`
	NozzleID      string  `json:"nozzleId"`
	FuelType      string  `json:"fuelType"`
	Volume        float64 `json:"volume"`
	Amount        float64 `json:"amount"`
	TagID         string  `json:"tagId,omitempty"`
	TransactionID string  `json:"transactionId,omitempty"`
}

// TankMeasurement is a probe reading from one tank.
type TankMeasurement struct {
	TankID      string  `json:"tankId"`
	FuelType    string  `json:"fuelType"`
	Level       float64 `json:"level"`
	Volume      float64 `json:"volume"`
	Temperature float64 `json:"temperature,omitempty"`
	WaterLevel  float64 `json:"waterLevel,omitempty"`
	Ullage      float64 `json:"ullage,omitempty"`
}

// InTankDelivery records fuel delivered into a tank.
type InTankDelivery struct {
	TankID          string  `json:"tankId"`
	FuelType        string  `json:"fuelType"`
	DeliveredVolume float64 `json:"deliveredVolume"`
	DeliveryNumber  string  `json:"deliveryNumber,omitempty"`
	DriverID        string  `json:"driverId,omitempty"`
	SupplierID      string  `json:"supplierId,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
}

// GpsRecord is a position fix from the controller.
type GpsRecord struct {
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	Altitude   float64 `json:"altitude,omitempty"`
	Speed      float64 `json:"speed,omitempty"`
	Heading    float64 `json:"heading,omitempty"`
	Accuracy   float64 `json:"accuracy,omitempty"`
	Satellites int     `json:"satellites,omitempty"`
}

// AlertRecord is an alert raised by the controller or a peripheral.
type AlertRecord struct {
	AlertType string  `json:"alertType"`
	Severity  string  `json:"severity"`
	Message   string  `json:"message"`
	Component string  `json:"component,omitempty"`
	Value     float64 `json:"value,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
}

// StatusRecord is a periodic snapshot of the controller and its peripherals.
type StatusRecord struct {
	SystemStatus        string      `json:"systemStatus"`
	Pumps               []Variables `json:"pumps,omitempty"`
	Tanks               []Variables `json:"tanks,omitempty"`
	Readers             []Variables `json:"readers,omitempty"`
	PriceBoards         []Variables `json:"priceBoards,omitempty"`
	GpsStatus           string      `json:"gpsStatus,omitempty"`
	CommunicationStatus string      `json:"communicationStatus,omitempty"`
	BatteryLevel        float64     `json:"batteryLevel,omitempty"`
	Temperature         float64     `json:"temperature,omitempty"`
}

// ConfigurationRecord is uploaded when the controller configuration changes.
type ConfigurationRecord struct {
	ConfigVersion string    `json:"configVersion"`
	ConfigData    Variables `json:"configData"`
}

// TagBalanceRequest asks the server for a payment tag balance.
type TagBalanceRequest struct {
	TagID string `json:"tagId"`
}

// TagBalance is the answer to a TagBalanceRequest.
type TagBalance struct {
	TagID      string  `json:"tagId" db:"tag_id"`
	Balance    float64 `json:"balance" db:"balance"`
	IsValid    bool    `json:"isValid" db:"is_valid"`
	CardType   string  `json:"cardType,omitempty" db:"card_type"`
	ExpiryDate string  `json:"expiryDate,omitempty" db:"expiry_date"`
}
