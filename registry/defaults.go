package registry

// Defaults returns the built-in language profiles
func Defaults() []LanguageDescriptor {
	return []LanguageDescriptor{
		{
			ID:         "python",
			Image:      "python:3.11-slim",
			FileSuffix: ".py",
			Command:    []string{"python", "-u", "-B", FilePlaceholder},
			Environment: map[string]string{
				"PYTHONDONTWRITEBYTECODE": "1",
				"MPLCONFIGDIR":            "/tmp/matplotlib",
			},
		},
		{
			ID:         "javascript",
			Image:      "node:20-alpine",
			FileSuffix: ".js",
			Command:    []string{"node", FilePlaceholder},
		},
		{
			// single-file source launch, the class must be named Main
			ID:         "java",
			Image:      "eclipse-temurin:21-jdk-alpine",
			FileSuffix: ".java",
			FileName:   "Main.java",
			Command:    []string{"java", "-XX:+UseSerialGC", FilePlaceholder},
		},
		{
			ID:         "sql",
			Image:      "keinos/sqlite3:latest",
			FileSuffix: ".sql",
			Command:    []string{"sh", "-c", "sqlite3 -bail -header -column :memory: < " + FilePlaceholder},
		},
		{
			ID:         "go",
			Image:      "golang:1.23-alpine",
			FileSuffix: ".go",
			Command:    []string{"go", "run", FilePlaceholder},
			Environment: map[string]string{
				"GOCACHE":     "/tmp/gocache",
				"GOPATH":      "/tmp/go",
				"CGO_ENABLED": "0",
				"HOME":        "/tmp",
			},
		},
		{
			ID:         "cpp",
			Image:      "gcc:13",
			FileSuffix: ".cpp",
			Command:    []string{"sh", "-c", "g++ -std=c++17 -O2 -o /tmp/app " + FilePlaceholder + " && /tmp/app"},
		},
	}
}
