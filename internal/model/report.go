package model

import "time"

// ScheduleReport is the input of the spreadsheet export.
type ScheduleReport struct {
	From     time.Time
	To       time.Time
	Services []Service
}

// WorkOrder is the printable sheet handed to the crew of one service.
type WorkOrder struct {
	Service   Service
	Client    Client
	Toilets   []Resource
	Vehicles  []Resource
	Employees []Resource
	IssuedAt  time.Time
}
