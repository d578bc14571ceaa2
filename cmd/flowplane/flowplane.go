// Copyright Project Flowplane Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kingpin/v2"
	"github.com/sirupsen/logrus"
	_ "go.uber.org/automaxprocs"

	"github.com/flowplane/flowplane/internal/build"
)

func main() {
	log := logrus.StandardLogger()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	app := kingpin.New("flowplane", "Flowplane Envoy control plane.")
	app.HelpFlag.Short('h')

	serve, serveCtx := registerServe(app)
	version := app.Command("version", "Build information.")

	args := os.Args[1:]
	switch kingpin.MustParse(app.Parse(args)) {
	case version.FullCommand():
		fmt.Println(build.PrintBuildInfo())
	case serve.FullCommand():
		if err := serveCtx.applyConfigFile(); err != nil {
			log.WithError(err).Fatal("invalid configuration file")
		}
		if level, err := logrus.ParseLevel(serveCtx.logLevel); err == nil {
			log.SetLevel(level)
		}
		log.Infof("args: %v", args)
		if err := doServe(log, serveCtx); err != nil {
			log.WithError(err).Fatal("flowplane serve terminated")
		}
	default:
		app.Usage(args)
		os.Exit(2)
	}
}
