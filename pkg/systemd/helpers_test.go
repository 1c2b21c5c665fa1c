package systemd

import logx "schedscaler/pkg/logx"

var zeroLog logx.Logger
