package provision

type application struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	CompileTime string `json:"compile_time"`
	IdfVersion  string `json:"idf_version"`
	ElfSha256   string `json:"elf_sha256"`
}

type board struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	SSID    string `json:"ssid"`
	RSSI    int    `json:"rssi"`
	Channel int    `json:"channel"`
	IP      string `json:"ip"`
	MAC     string `json:"mac"`
}

type chipInfo struct {
	Model    int `json:"model"`
	Cores    int `json:"cores"`
	Revision int `json:"revision"`
	Features int `json:"features"`
}

type partition struct {
	Label   string `json:"label"`
	Type    int    `json:"type"`
	Subtype int    `json:"subtype"`
	Address int    `json:"address"`
	Size    int    `json:"size"`
}

type otaInfo struct {
	Label string `json:"label"`
}

// deviceReport mirrors what an ESP32 board sends; a desktop client has
// no flash or chip, so those descriptors are zeroed.
type deviceReport struct {
	Version             int         `json:"version"`
	Language            string      `json:"language"`
	FlashSize           int         `json:"flash_size"`
	MinimumFreeHeapSize int         `json:"minimum_free_heap_size"`
	MacAddress          string      `json:"mac_address"`
	UUID                string      `json:"uuid"`
	ChipModelName       string      `json:"chip_model_name"`
	ChipInfo            chipInfo    `json:"chip_info"`
	Application         application `json:"application"`
	PartitionTable      []partition `json:"partition_table"`
	Ota                 otaInfo     `json:"ota"`
	Board               board       `json:"board"`
}

func newDeviceReport(clientID, deviceID string) deviceReport {
	return deviceReport{
		Version:    1,
		Language:   "zh-CN",
		MacAddress: deviceID,
		UUID:       clientID,
		Application: application{
			Name:        appName,
			Version:     appVersion,
			CompileTime: "2025-06-19 10:00:00",
			IdfVersion:  "4.4.3",
			ElfSha256:   "1234567890abcdef1234567890abcdef1234567890abcdef",
		},
		PartitionTable: []partition{{}},
		Ota:            otaInfo{Label: appName},
		Board: board{
			Type: appName,
			Name: appName,
			SSID: appName,
			IP:   "192.168.1.1",
			MAC:  deviceID,
		},
	}
}
