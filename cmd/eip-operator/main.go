package main

import (
	"github.com/sirupsen/logrus"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		logrus.WithError(err).Fatal("eip-operator exited with an error")
	}
}
