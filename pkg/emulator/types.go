package emulator

import (
	"context"
	"fmt"
	"sort"
)

// DefaultHost is the loopback address emulators bind to unless configured otherwise
const DefaultHost = "127.0.0.1"

// Name identifies an emulator kind; at most one instance per name runs at a time
type Name string

const (
	Hub         Name = "hub"
	UI          Name = "ui"
	Logging     Name = "logging"
	Hosting     Name = "hosting"
	Functions   Name = "functions"
	Firestore   Name = "firestore"
	Database    Name = "database"
	Auth        Name = "auth"
	PubSub      Name = "pubsub"
	Storage     Name = "storage"
	Eventarc    Name = "eventarc"
	DataConnect Name = "dataconnect"
	Tasks       Name = "tasks"
	AppHosting  Name = "apphosting"
)

type nameInfo struct {
	port        int
	description string
}

var names = map[Name]nameInfo{
	Hub:         {4400, "Emulator Hub"},
	UI:          {4000, "Emulator UI"},
	Logging:     {4500, "Logging Emulator"},
	Hosting:     {5000, "Hosting Emulator"},
	Functions:   {5001, "Functions Emulator"},
	AppHosting:  {5002, "App Hosting Emulator"},
	Firestore:   {8080, "Firestore Emulator"},
	PubSub:      {8085, "Pub/Sub Emulator"},
	Database:    {9000, "Database Emulator"},
	Auth:        {9099, "Authentication Emulator"},
	Storage:     {9199, "Storage Emulator"},
	Eventarc:    {9299, "Eventarc Emulator"},
	DataConnect: {9399, "Data Connect Emulator"},
	Tasks:       {9499, "Cloud Tasks Emulator"},
}

func (n Name) Valid() bool {
	_, ok := names[n]
	return ok
}

// DefaultPort returns the conventional port for n, or 0 for unknown names
func (n Name) DefaultPort() int {
	return names[n].port
}

func (n Name) Description() string {
	if info, ok := names[n]; ok {
		return info.description
	}
	return fmt.Sprintf("%s emulator", string(n))
}

// AllNames returns every known emulator name in alphabetical order
func AllNames() []Name {
	all := make([]Name, 0, len(names))
	for name := range names {
		all = append(all, name)
	}
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
	return all
}

// Info describes where a running emulator can be reached
type Info struct {
	Name Name   `json:"name"`
	Host string `json:"host"`
	Port int    `json:"port"`
	// PID is 0 when the emulator is not a child process
	PID int `json:"pid,omitempty"`
}

// Instance is the lifecycle contract every emulator kind implements
type Instance interface {
	Name() Name
	Info() Info
	Connect(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Starter is implemented by instances that need to launch something
// after their port has been verified and before they are registered.
type Starter interface {
	Start(ctx context.Context) error
}
